// Package config loads certsync configuration from a CUE (or JSON) file,
// a dotenv file and CERTSYNC_* environment variables, in increasing order
// of precedence. The result is validated against an embedded schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
)

//go:embed schema.cue
var schemaCUE string

// Config is the resolved configuration.
type Config struct {
	API      APIConfig
	Feed     FeedConfig
	Sync     SyncConfig
	Listen   string
	Journal  string
	LogLevel string
}

// APIConfig configures the REST backend.
type APIConfig struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	PageSize    int
	MaxAttempts int
}

// FeedConfig configures the push feed. An empty URL disables it.
type FeedConfig struct {
	URL              string
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// SyncConfig configures specialization syncs and reload timing.
type SyncConfig struct {
	FallbackDelay         time.Duration
	ReloadDelay           time.Duration
	CallTimeout           time.Duration
	UnresolvedReloadAfter time.Duration
}

// fileConfig mirrors #Config for decoding.
type fileConfig struct {
	API struct {
		BaseURL     string `json:"base_url"`
		Token       string `json:"token"`
		Timeout     string `json:"timeout"`
		PageSize    int    `json:"page_size"`
		MaxAttempts int    `json:"max_attempts"`
	} `json:"api"`
	Feed struct {
		URL              string `json:"url"`
		ReconnectInitial string `json:"reconnect_initial"`
		ReconnectMax     string `json:"reconnect_max"`
	} `json:"feed"`
	Sync struct {
		FallbackDelay         string `json:"fallback_delay"`
		ReloadDelay           string `json:"reload_delay"`
		CallTimeout           string `json:"call_timeout"`
		UnresolvedReloadAfter string `json:"unresolved_reload_after"`
	} `json:"sync"`
	Listen   string `json:"listen"`
	Journal  string `json:"journal"`
	LogLevel string `json:"log_level"`
}

// envOverrides maps environment variables onto config paths.
var envOverrides = []struct {
	name string
	path []string
}{
	{"CERTSYNC_API_BASE_URL", []string{"api", "base_url"}},
	{"CERTSYNC_API_TOKEN", []string{"api", "token"}},
	{"CERTSYNC_FEED_URL", []string{"feed", "url"}},
	{"CERTSYNC_LISTEN", []string{"listen"}},
	{"CERTSYNC_JOURNAL", []string{"journal"}},
	{"CERTSYNC_LOG_LEVEL", []string{"log_level"}},
}

// Sources controls where overrides come from.
type Sources struct {
	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string

	// LookupEnv reads the process environment. Nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// FieldError is one schema violation.
type FieldError struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

func (e FieldError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// ValidationError lists every schema violation found.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid config: " + e.Errors[0].Error()
	}
	return fmt.Sprintf("invalid config: %s (and %d more)", e.Errors[0].Error(), len(e.Errors)-1)
}

// Load reads the config file at path (optional), applies overrides from
// src and validates the result.
func Load(path string, src Sources) (*Config, error) {
	values := map[string]any{}
	ctx := cuecontext.New()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		v := ctx.CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return nil, &ValidationError{Errors: fieldErrors(err)}
		}
		if err := v.Decode(&values); err != nil {
			return nil, &ValidationError{Errors: fieldErrors(err)}
		}
	}

	env, err := readEnv(src)
	if err != nil {
		return nil, err
	}
	for _, o := range envOverrides {
		if val, ok := env(o.name); ok && val != "" {
			setPath(values, o.path, val)
		}
	}

	return resolve(ctx, ctx.Encode(values))
}

// Validate checks config file contents against the schema without
// applying overrides. It returns nil when data is valid.
func Validate(data []byte, filename string) []FieldError {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return fieldErrors(err)
	}
	if _, err := resolve(ctx, v); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return verr.Errors
		}
		return []FieldError{{Message: err.Error()}}
	}
	return nil
}

// resolve unifies v with the schema, fills defaults and converts the
// result to a Config.
func resolve(ctx *cue.Context, v cue.Value) (*Config, error) {
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	merged := def.Unify(v)
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return nil, &ValidationError{Errors: fieldErrors(err)}
	}

	var fc fileConfig
	if err := merged.Decode(&fc); err != nil {
		return nil, &ValidationError{Errors: fieldErrors(err)}
	}
	return fc.convert()
}

func (fc fileConfig) convert() (*Config, error) {
	var errs []FieldError
	dur := func(path, s string) time.Duration {
		d, err := time.ParseDuration(s)
		if err != nil {
			errs = append(errs, FieldError{Path: path, Message: err.Error()})
		}
		return d
	}

	cfg := &Config{
		API: APIConfig{
			BaseURL:     fc.API.BaseURL,
			Token:       fc.API.Token,
			Timeout:     dur("api.timeout", fc.API.Timeout),
			PageSize:    fc.API.PageSize,
			MaxAttempts: fc.API.MaxAttempts,
		},
		Feed: FeedConfig{
			URL:              fc.Feed.URL,
			ReconnectInitial: dur("feed.reconnect_initial", fc.Feed.ReconnectInitial),
			ReconnectMax:     dur("feed.reconnect_max", fc.Feed.ReconnectMax),
		},
		Sync: SyncConfig{
			FallbackDelay:         dur("sync.fallback_delay", fc.Sync.FallbackDelay),
			ReloadDelay:           dur("sync.reload_delay", fc.Sync.ReloadDelay),
			CallTimeout:           dur("sync.call_timeout", fc.Sync.CallTimeout),
			UnresolvedReloadAfter: dur("sync.unresolved_reload_after", fc.Sync.UnresolvedReloadAfter),
		},
		Listen:   fc.Listen,
		Journal:  fc.Journal,
		LogLevel: fc.LogLevel,
	}
	if cfg.Feed.ReconnectMax < cfg.Feed.ReconnectInitial {
		errs = append(errs, FieldError{Path: "feed.reconnect_max", Message: "must not be shorter than feed.reconnect_initial"})
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}
	return cfg, nil
}

// readEnv returns a lookup over the process environment, falling back to
// the dotenv file.
func readEnv(src Sources) (func(string) (string, bool), error) {
	lookup := src.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if src.EnvFile == "" {
		return lookup, nil
	}

	file, err := godotenv.Read(src.EnvFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return lookup, nil
		}
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return func(name string) (string, bool) {
		if v, ok := lookup(name); ok {
			return v, true
		}
		v, ok := file[name]
		return v, ok
	}, nil
}

func setPath(m map[string]any, path []string, val string) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = val
}

func fieldErrors(err error) []FieldError {
	var out []FieldError
	for _, e := range cueerrors.Errors(err) {
		fe := FieldError{Message: e.Error()}
		if p := e.Path(); len(p) > 0 {
			fe.Path = joinPath(p)
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 && pos[0].IsValid() {
			fe.Line = pos[0].Line()
		}
		out = append(out, fe)
	}
	if len(out) == 0 {
		out = append(out, FieldError{Message: err.Error()})
	}
	return out
}

func joinPath(p []string) string {
	s := p[0]
	for _, part := range p[1:] {
		s += "." + part
	}
	return s
}
