package specsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/certsync/internal/model"
)

// Defaults for the tier delays and per-call timeout.
const (
	DefaultFallbackDelay = 1500 * time.Millisecond
	DefaultReloadDelay   = 3 * time.Second
	DefaultCallTimeout   = 10 * time.Second
)

// ErrNoUsablePayload is recorded when a tier's call succeeds but returns a
// trainer without a specializations field.
var ErrNoUsablePayload = errors.New("response carried no specializations")

// Tier identifies the fallback level that ended a chain.
type Tier int

const (
	TierRecompute Tier = iota + 1
	TierFetch
	TierReload
)

func (t Tier) String() string {
	switch t {
	case TierRecompute:
		return "recompute"
	case TierFetch:
		return "fetch"
	case TierReload:
		return "reload"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Backend is the pair of calls the first two tiers use.
type Backend interface {
	RecomputeSpecializations(ctx context.Context, trainerKey string) (model.Trainer, error)
	FetchTrainerByID(ctx context.Context, trainerKey string) (model.Trainer, error)
}

// Host is the reconciler side of the coordinator.
type Host interface {
	// Post schedules fn on the reconciler loop. It returns false if the
	// loop no longer accepts work.
	Post(fn func()) bool

	// Trainer returns the current local record for key.
	Trainer(key string) (model.Trainer, bool)

	// SetSpecializations replaces key's specializations and reports
	// whether anything changed.
	SetSpecializations(key string, specs []string) bool

	// Reload requests a bulk reload. done runs on the loop once the reload
	// has finished or failed.
	Reload(reason string, done func(error))
}

// IDGenerator produces chain correlation IDs.
type IDGenerator interface {
	Generate() string
}

// Outcome describes a finished chain.
type Outcome struct {
	ChainID    string
	TrainerKey string

	// Tier is the tier that ended the chain.
	Tier Tier

	// Err is nil when the chain ended in success.
	Err error

	// Changed reports whether local specializations were modified by
	// tier 1 or 2.
	Changed bool

	Elapsed time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithFallbackDelay sets the delay between a failed tier 1 and tier 2.
func WithFallbackDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.fallbackDelay = d
	}
}

// WithReloadDelay sets the delay between a failed tier 2 and tier 3.
func WithReloadDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.reloadDelay = d
	}
}

// WithCallTimeout bounds each tier 1 and tier 2 backend call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.callTimeout = d
	}
}

// WithIDGenerator overrides the chain ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Coordinator) {
		c.ids = g
	}
}

// WithObserver registers a callback invoked on the loop for every finished chain.
func WithObserver(fn func(Outcome)) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, fn)
	}
}

// WithTierObserver registers a callback invoked on the loop each time a
// tier fails and the chain falls through to the next one.
func WithTierObserver(fn func(chainID, trainerKey string, tier Tier, err error)) Option {
	return func(c *Coordinator) {
		c.tierObservers = append(c.tierObservers, fn)
	}
}

type chain struct {
	id      string
	key     string
	tier    Tier
	rerun   bool
	started time.Time
	timer   *time.Timer
}

// Coordinator runs specialization sync chains.
type Coordinator struct {
	backend Backend
	host    Host
	ids     IDGenerator

	fallbackDelay time.Duration
	reloadDelay   time.Duration
	callTimeout   time.Duration

	observers     []func(Outcome)
	tierObservers []func(chainID, trainerKey string, tier Tier, err error)

	ctx    context.Context
	cancel context.CancelFunc
	chains map[string]*chain
}

// New creates a Coordinator. ctx bounds every call and timer the
// coordinator starts; cancelling it has the same effect as Stop without
// clearing chain bookkeeping.
func New(ctx context.Context, backend Backend, host Host, opts ...Option) *Coordinator {
	cctx, cancel := context.WithCancel(ctx)
	c := &Coordinator{
		backend:       backend,
		host:          host,
		ids:           UUIDv7Generator{},
		fallbackDelay: DefaultFallbackDelay,
		reloadDelay:   DefaultReloadDelay,
		callTimeout:   DefaultCallTimeout,
		ctx:           cctx,
		cancel:        cancel,
		chains:        make(map[string]*chain),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sync starts a chain for trainerKey, or marks the running chain for a re-run.
// Must be called on the loop.
func (c *Coordinator) Sync(trainerKey string) {
	if c.ctx.Err() != nil || trainerKey == "" {
		return
	}
	if ch, ok := c.chains[trainerKey]; ok {
		ch.rerun = true
		slog.Debug("specialization sync coalesced",
			"chain_id", ch.id,
			"trainer", trainerKey,
			"tier", ch.tier.String(),
		)
		return
	}

	ch := &chain{
		id:      c.ids.Generate(),
		key:     trainerKey,
		started: time.Now(),
	}
	c.chains[trainerKey] = ch
	slog.Info("specialization sync started", "chain_id", ch.id, "trainer", trainerKey)
	c.recompute(ch)
}

// InFlight reports whether a chain for trainerKey is running. Must be
// called on the loop.
func (c *Coordinator) InFlight(trainerKey string) bool {
	_, ok := c.chains[trainerKey]
	return ok
}

// Active returns the number of running chains. Must be called on the loop.
func (c *Coordinator) Active() int {
	return len(c.chains)
}

// Stop cancels every in-flight call and pending timer. Late results are
// discarded. Must be called on the loop or after it has exited.
func (c *Coordinator) Stop() {
	c.cancel()
	for key, ch := range c.chains {
		if ch.timer != nil {
			ch.timer.Stop()
		}
		delete(c.chains, key)
	}
}

func (c *Coordinator) recompute(ch *chain) {
	ch.tier = TierRecompute
	c.call(ch, c.backend.RecomputeSpecializations, func(t model.Trainer, err error) {
		if err == nil && !t.HasSpecializations {
			err = ErrNoUsablePayload
		}
		if err != nil {
			c.fallThrough(ch, err, c.fallbackDelay, c.fetch)
			return
		}
		changed := c.host.SetSpecializations(ch.key, model.NormalizeSpecializations(t.Specializations))
		c.finish(ch, nil, changed)
	})
}

func (c *Coordinator) fetch(ch *chain) {
	ch.tier = TierFetch
	c.call(ch, c.backend.FetchTrainerByID, func(t model.Trainer, err error) {
		if err == nil && !t.HasSpecializations {
			err = ErrNoUsablePayload
		}
		if err != nil {
			c.fallThrough(ch, err, c.reloadDelay, c.reload)
			return
		}
		specs := model.NormalizeSpecializations(t.Specializations)
		changed := false
		if cur, ok := c.host.Trainer(ch.key); !ok || !model.SameSpecializations(cur.Specializations, specs) {
			changed = c.host.SetSpecializations(ch.key, specs)
		}
		c.finish(ch, nil, changed)
	})
}

func (c *Coordinator) reload(ch *chain) {
	ch.tier = TierReload
	c.host.Reload("specialization sync "+ch.key, func(err error) {
		if c.ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("specialization sync exhausted",
				"chain_id", ch.id,
				"trainer", ch.key,
				"error", err,
			)
		}
		c.finish(ch, err, false)
	})
}

// call runs fn off the loop with the call timeout and posts the result back.
func (c *Coordinator) call(
	ch *chain,
	fn func(context.Context, string) (model.Trainer, error),
	then func(model.Trainer, error),
) {
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.callTimeout)
		t, err := fn(ctx, ch.key)
		cancel()
		if c.ctx.Err() != nil {
			return
		}
		c.host.Post(func() {
			if c.ctx.Err() != nil {
				return
			}
			then(t, err)
		})
	}()
}

// fallThrough records a failed tier and schedules the next one after delay.
func (c *Coordinator) fallThrough(ch *chain, err error, delay time.Duration, next func(*chain)) {
	slog.Warn("specialization sync tier failed",
		"chain_id", ch.id,
		"trainer", ch.key,
		"tier", ch.tier.String(),
		"retry_in", delay,
		"error", err,
	)
	for _, fn := range c.tierObservers {
		fn(ch.id, ch.key, ch.tier, err)
	}
	ch.timer = time.AfterFunc(delay, func() {
		if c.ctx.Err() != nil {
			return
		}
		c.host.Post(func() {
			if c.ctx.Err() != nil {
				return
			}
			ch.timer = nil
			next(ch)
		})
	})
}

func (c *Coordinator) finish(ch *chain, err error, changed bool) {
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
	delete(c.chains, ch.key)

	out := Outcome{
		ChainID:    ch.id,
		TrainerKey: ch.key,
		Tier:       ch.tier,
		Err:        err,
		Changed:    changed,
		Elapsed:    time.Since(ch.started),
	}
	if err == nil {
		slog.Info("specialization sync finished",
			"chain_id", ch.id,
			"trainer", ch.key,
			"tier", ch.tier.String(),
			"changed", changed,
		)
	}
	for _, fn := range c.observers {
		fn(out)
	}

	if ch.rerun {
		c.Sync(ch.key)
	}
}
