package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/certsync/internal/identity"
	"github.com/roach88/certsync/internal/loader"
	"github.com/roach88/certsync/internal/metrics"
	"github.com/roach88/certsync/internal/model"
	"github.com/roach88/certsync/internal/pending"
	"github.com/roach88/certsync/internal/specsync"
)

// Defaults for timing options.
const (
	DefaultUnresolvedReloadAfter = 30 * time.Second
	DefaultLoadRetryInitial      = time.Second
	DefaultLoadRetryMax          = 30 * time.Second

	// DefaultReplayWindow bounds the events kept for replay while no load
	// has succeeded yet.
	DefaultReplayWindow = 10000
)

// Backend is everything the reconciler fetches: the bulk load calls and
// the specialization sync calls.
type Backend interface {
	loader.Source
	specsync.Backend
}

// Journal durably records accepted events.
type Journal interface {
	Append(ctx context.Context, seq int64, fingerprint, trainerKey string, ev model.Event) error
}

// Stats are cumulative counters since construction.
type Stats struct {
	Applied        int64
	Duplicates     int64
	Dropped        int64
	Syncs          int64
	Reloads        int64
	ReloadFailures int64
}

type phase int

const (
	phaseUnseen phase = iota
	phasePending
	phaseResolved
)

// certState tracks one certification key. trainerKey is where its record is
// filed while pending.
type certState struct {
	phase      phase
	trainerKey string
	status     model.Status
}

// Reconciler owns the pending store and trainer list for one view.
//
// Thread-safety model:
//   - Submit, Post, Refresh, Snapshot, Watch, WaitIdle, Stats, Dispose:
//     safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Reconciler struct {
	loader *loader.Loader
	sync   *specsync.Coordinator
	store  *pending.Store
	clock  *Clock
	queue  *taskQueue
	now    func() time.Time

	journal       Journal
	metrics       *metrics.Metrics
	tracers       []func(TraceEntry)
	syncObservers []func(specsync.Outcome)
	syncOpts      []specsync.Option

	syncDisabled          bool
	initialLoad           bool
	unresolvedReloadAfter time.Duration
	retry                 *backoff.ExponentialBackOff
	dedupSize             int
	replayLimit           int

	ctx      context.Context
	cancel   context.CancelFunc
	running  atomic.Bool
	teardown sync.Once

	snap     atomic.Pointer[Snapshot]
	watchers *watchers

	applied        atomic.Int64
	duplicates     atomic.Int64
	dropped        atomic.Int64
	syncs          atomic.Int64
	reloads        atomic.Int64
	reloadFailures atomic.Int64

	// Loop-owned state.
	trainers        []model.Trainer
	ids             *identity.Index
	certs           map[string]certState
	epochs          map[string]int
	dedup           *fingerprintWindow
	loaded          bool
	loading         bool
	loadGen         int64
	reloadAgain     bool
	reloadWaiters   []func(error)
	inflightWaiters []func(error)
	window          []model.Event
	unresolved      map[string]time.Time
	unresolvedTimer *time.Timer
	retryTimer      *time.Timer
	version         int64
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithNow overrides the wall clock used for record timestamps.
func WithNow(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// WithClock resumes sequence numbering from an existing clock.
func WithClock(c *Clock) Option {
	return func(r *Reconciler) {
		r.clock = c
	}
}

// WithTracer registers a callback invoked on the loop for every processed event.
func WithTracer(fn func(TraceEntry)) Option {
	return func(r *Reconciler) {
		r.tracers = append(r.tracers, fn)
	}
}

// WithJournal appends every accepted event to j.
func WithJournal(j Journal) Option {
	return func(r *Reconciler) {
		r.journal = j
	}
}

// WithMetrics records reconciler activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithSyncObserver registers a callback invoked on the loop for every
// finished specialization sync chain.
func WithSyncObserver(fn func(specsync.Outcome)) Option {
	return func(r *Reconciler) {
		r.syncObservers = append(r.syncObservers, fn)
	}
}

// WithSyncOptions passes options to the specialization sync coordinator.
func WithSyncOptions(opts ...specsync.Option) Option {
	return func(r *Reconciler) {
		r.syncOpts = append(r.syncOpts, opts...)
	}
}

// WithSyncDisabled suppresses specialization syncs. Used for offline replay.
func WithSyncDisabled() Option {
	return func(r *Reconciler) {
		r.syncDisabled = true
	}
}

// WithoutInitialLoad skips the bulk load Run normally starts with. Events
// are then filed under their raw trainer identifiers.
func WithoutInitialLoad() Option {
	return func(r *Reconciler) {
		r.initialLoad = false
	}
}

// WithUnresolvedReloadAfter sets how long an unknown trainer identifier may
// stay unknown after a load before another load is requested.
func WithUnresolvedReloadAfter(d time.Duration) Option {
	return func(r *Reconciler) {
		r.unresolvedReloadAfter = d
	}
}

// WithLoadRetry sets the backoff bounds for retrying a failed initial load.
func WithLoadRetry(initial, maxInterval time.Duration) Option {
	return func(r *Reconciler) {
		r.retry.InitialInterval = initial
		r.retry.MaxInterval = maxInterval
	}
}

// WithDedupWindow sets how many recent event fingerprints are remembered.
func WithDedupWindow(n int) Option {
	return func(r *Reconciler) {
		r.dedupSize = n
	}
}

// New creates a Reconciler reading from backend. backend may be nil only
// together with WithoutInitialLoad and WithSyncDisabled.
func New(backend Backend, opts ...Option) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = DefaultLoadRetryInitial
	retry.MaxInterval = DefaultLoadRetryMax

	r := &Reconciler{
		store:                 pending.New(),
		clock:                 NewClock(),
		queue:                 newTaskQueue(),
		now:                   time.Now,
		initialLoad:           true,
		unresolvedReloadAfter: DefaultUnresolvedReloadAfter,
		retry:                 retry,
		dedupSize:             DefaultDedupWindow,
		replayLimit:           DefaultReplayWindow,
		ctx:                   ctx,
		cancel:                cancel,
		watchers:              newWatchers(),
		ids:                   identity.NewIndex(nil),
		certs:                 make(map[string]certState),
		epochs:                make(map[string]int),
		unresolved:            make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.dedup = newFingerprintWindow(r.dedupSize)
	if backend != nil {
		r.loader = loader.New(backend, loader.WithNow(r.now))
	}

	syncOpts := []specsync.Option{
		specsync.WithObserver(r.onSyncOutcome),
		specsync.WithTierObserver(func(_, _ string, tier specsync.Tier, _ error) {
			r.metrics.RecordTierFailure(tier.String())
		}),
	}
	syncOpts = append(syncOpts, r.syncOpts...)
	r.sync = specsync.New(ctx, backend, syncHost{r}, syncOpts...)

	r.snap.Store(buildSnapshot(0, false, nil, pending.Index{}))
	return r
}

// Run starts the loop. It blocks until ctx is cancelled or Dispose is
// called, and disposes the reconciler on return.
//
// Unless WithoutInitialLoad was given, the first task is a bulk load.
func (r *Reconciler) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("reconciler: Run called more than once")
	}
	defer r.shutdown()

	slog.Info("reconciler starting", "initial_load", r.initialLoad)
	if r.initialLoad {
		r.requestReload("initial load", nil)
	}

	for {
		if r.ctx.Err() != nil {
			slog.Info("reconciler stopping: disposed")
			return nil
		}

		if t, ok := r.queue.TryDequeue(); ok {
			r.process(t)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("reconciler stopping: context cancelled")
			r.Dispose()
			return ctx.Err()
		case <-r.ctx.Done():
		case <-r.queue.Wait():
		}
	}
}

// Dispose stops the reconciler. Pending timers and in-flight calls are
// cancelled and their results discarded; queued tasks are not processed.
// Safe to call more than once.
func (r *Reconciler) Dispose() {
	r.cancel()
	r.queue.Close()
	if !r.running.Load() {
		r.shutdown()
	}
}

// shutdown releases loop-owned resources. It runs on the loop goroutine
// when Run returns, or on the caller of Dispose if Run never started.
func (r *Reconciler) shutdown() {
	r.teardown.Do(func() {
		r.sync.Stop()
		if r.unresolvedTimer != nil {
			r.unresolvedTimer.Stop()
		}
		if r.retryTimer != nil {
			r.retryTimer.Stop()
		}
		r.store.Dispose()
		r.watchers.close()
		slog.Info("reconciler disposed")
	})
}

// Submit queues an event for reconciliation.
func (r *Reconciler) Submit(ev model.Event) error {
	if r.ctx.Err() != nil {
		return errDisposed
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = r.now()
	}
	if !r.queue.Enqueue(task{Type: taskEvent, Event: ev}) {
		return errDisposed
	}
	return nil
}

// Post runs fn on the loop. It returns false if the reconciler is disposed.
func (r *Reconciler) Post(fn func()) bool {
	if r.ctx.Err() != nil {
		return false
	}
	return r.queue.Enqueue(task{Type: taskFunc, Fn: fn})
}

// Refresh requests a bulk reload and waits for it to finish. Concurrent
// refreshes share a load.
func (r *Reconciler) Refresh(ctx context.Context) error {
	done := make(chan error, 1)
	if !r.Post(func() {
		r.requestReload("manual refresh", func(err error) { done <- err })
	}) {
		return errDisposed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return errDisposed
	}
}

// Snapshot returns the latest published state.
func (r *Reconciler) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Watch delivers the current snapshot and then every newer one. A slow
// reader only ever sees the newest snapshot. The channel closes when ctx is
// done or the reconciler is disposed.
func (r *Reconciler) Watch(ctx context.Context) <-chan *Snapshot {
	return r.watchers.add(ctx, r.Snapshot())
}

// Stats returns cumulative counters.
func (r *Reconciler) Stats() Stats {
	return Stats{
		Applied:        r.applied.Load(),
		Duplicates:     r.duplicates.Load(),
		Dropped:        r.dropped.Load(),
		Syncs:          r.syncs.Load(),
		Reloads:        r.reloads.Load(),
		ReloadFailures: r.reloadFailures.Load(),
	}
}

// WaitIdle blocks until the queue is empty and no load, sync chain or
// unresolved-identifier timer is outstanding. A pending retry of a failed
// initial load does not count as activity.
func (r *Reconciler) WaitIdle(ctx context.Context) error {
	for {
		idle := make(chan bool, 1)
		if !r.Post(func() { idle <- r.isIdle() }) {
			return errDisposed
		}
		select {
		case ok := <-idle:
			if ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-r.ctx.Done():
			return errDisposed
		}

		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Reconciler) isIdle() bool {
	return r.queue.Len() == 0 &&
		!r.loading &&
		r.sync.Active() == 0 &&
		r.unresolvedTimer == nil
}

// process routes a task. Called only on the loop.
func (r *Reconciler) process(t task) {
	switch t.Type {
	case taskEvent:
		r.handleEvent(t.Event, false)
	case taskLoad:
		r.onLoad(t.Load)
	case taskFunc:
		if t.Fn != nil {
			t.Fn()
		}
	default:
		slog.Error("unknown task type", "type", int(t.Type))
	}
}

// publish builds and publishes a new Snapshot. Called only on the loop.
func (r *Reconciler) publish() {
	r.version++
	s := buildSnapshot(r.version, r.loaded, r.trainers, r.store.Current())
	r.snap.Store(s)
	r.watchers.publish(s)
	r.metrics.SetState(len(r.trainers), s.Pending.Len())
}

func (r *Reconciler) onSyncOutcome(out specsync.Outcome) {
	r.metrics.RecordSync(out.Tier.String(), out.Err == nil, out.Elapsed)
	for _, fn := range r.syncObservers {
		fn(out)
	}
}

// syncHost adapts the reconciler to specsync.Host without widening the
// reconciler's exported API.
type syncHost struct {
	r *Reconciler
}

func (h syncHost) Post(fn func()) bool {
	return h.r.Post(fn)
}

func (h syncHost) Trainer(key string) (model.Trainer, bool) {
	for _, t := range h.r.trainers {
		if t.ID == key {
			return t, true
		}
	}
	return model.Trainer{}, false
}

func (h syncHost) SetSpecializations(key string, specs []string) bool {
	r := h.r
	for i, t := range r.trainers {
		if t.ID != key {
			continue
		}
		if model.SameSpecializations(t.Specializations, specs) {
			return false
		}
		next := make([]model.Trainer, len(r.trainers))
		copy(next, r.trainers)
		t = t.Clone()
		t.Specializations = append([]string{}, specs...)
		next[i] = t
		r.trainers = next
		slog.Info("specializations updated", "trainer", key, "specializations", specs)
		r.publish()
		return true
	}
	return false
}

func (h syncHost) Reload(reason string, done func(error)) {
	h.r.requestReload(reason, done)
}
