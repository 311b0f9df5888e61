// Package backend implements the trainer and certification calls against
// the REST API.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
)

// Defaults for Config fields left zero.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultPageSize     = 200
	DefaultMaxAttempts  = 3
	DefaultRetryInitial = 500 * time.Millisecond
	DefaultRetryMax     = 5 * time.Second

	// maxPages stops paging against a server that never reports the end.
	maxPages = 1000
)

// Config configures a Client.
type Config struct {
	BaseURL      string `validate:"required,url,startswith=http"`
	Token        string
	Timeout      time.Duration `validate:"gte=0"`
	PageSize     int           `validate:"gte=0,lte=1000"`
	MaxAttempts  uint
	RetryInitial time.Duration `validate:"gte=0"`
	RetryMax     time.Duration `validate:"gte=0"`

	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client `validate:"-"`
}

// Client calls the REST API.
type Client struct {
	base     *url.URL
	token    string
	http     *http.Client
	pageSize int
	attempts uint
	initial  time.Duration
	maxDelay time.Duration
	validate *validator.Validate
}

// New validates cfg and creates a Client.
func New(cfg Config) (*Client, error) {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("backend config: %w", err)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend config: base url: %w", err)
	}

	c := &Client{
		base:     base,
		token:    cfg.Token,
		http:     cfg.HTTPClient,
		pageSize: cfg.PageSize,
		attempts: cfg.MaxAttempts,
		initial:  cfg.RetryInitial,
		maxDelay: cfg.RetryMax,
		validate: v,
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.pageSize == 0 {
		c.pageSize = DefaultPageSize
	}
	if c.attempts == 0 {
		c.attempts = DefaultMaxAttempts
	}
	if c.initial == 0 {
		c.initial = DefaultRetryInitial
	}
	if c.maxDelay == 0 {
		c.maxDelay = DefaultRetryMax
	}
	return c, nil
}

// endpoint joins path segments onto the base URL, escaping each segment.
func (c *Client) endpoint(query url.Values, segments ...string) string {
	u := *c.base
	u.RawPath = u.EscapedPath()
	for _, s := range segments {
		u.Path += "/" + s
		u.RawPath += "/" + url.PathEscape(s)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// do executes a request with retries and returns the response body.
// Transport errors and retryable statuses are retried with exponential
// backoff. Other failures return immediately.
func (c *Client) do(ctx context.Context, method, target string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = c.maxDelay

	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() == nil && isRetryableNetErr(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		body, err := readAndClose(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		herr := &HTTPError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: body}
		if !herr.Retryable() {
			return nil, backoff.Permanent(herr)
		}
		return nil, herr
	}

	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("backend call failed, retrying",
				"method", method,
				"url", target,
				"retry_in", next,
				"error", err,
			)
		}),
	)
	if err != nil {
		var perr *backoff.PermanentError
		if errors.As(err, &perr) {
			err = perr.Unwrap()
		}
		return nil, err
	}
	return body, nil
}

func readAndClose(rc io.ReadCloser) ([]byte, error) {
	defer rc.Close()
	return io.ReadAll(rc)
}

func pageQuery(page, size int, extra url.Values) url.Values {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(size))
	return q
}
