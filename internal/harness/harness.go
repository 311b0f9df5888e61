package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/certsync/internal/model"
	"github.com/roach88/certsync/internal/reconciler"
	"github.com/roach88/certsync/internal/specsync"
	"github.com/roach88/certsync/internal/testutil"
)

// DefaultChannel tags scenario events that name no channel.
const DefaultChannel = "scenario"

// settleTimeout bounds how long a single step may keep the reconciler busy.
const settleTimeout = 5 * time.Second

// Harness is the scenario execution engine. It owns the fake backend, the
// reconciler under test and the trace being recorded.
type Harness struct {
	backend *testutil.FakeBackend
	rec     *reconciler.Reconciler
	logger  *slog.Logger

	mu     sync.Mutex
	step   int
	result *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh backend and reconciler. Deterministic
// helpers ensure reproducible traces.
//
// Execution flow:
// 1. Seed the fake backend and script its failures
// 2. Start the reconciler and wait for the initial load
// 3. Execute steps, waiting for the reconciler to go idle after each
// 4. Evaluate assertions against the final state and trace
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	backend := testutil.NewFakeBackend(toTrainers(scenario.Trainers), toPending(scenario.Pending))
	for key, specs := range scenario.Recomputed {
		backend.SetRecomputed(key, specs)
	}
	for call, n := range scenario.Fail {
		backend.Fail(call, n)
	}

	h := &Harness{
		backend: backend,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:  NewResult(),
	}

	var unresolvedAfter time.Duration
	if scenario.UnresolvedReload {
		unresolvedAfter = time.Millisecond
	}
	clock := testutil.NewDeterministicClock()
	h.rec = reconciler.New(backend,
		reconciler.WithNow(clock.Now),
		reconciler.WithTracer(h.recordEvent),
		reconciler.WithSyncObserver(h.recordSync),
		reconciler.WithUnresolvedReloadAfter(unresolvedAfter),
		reconciler.WithLoadRetry(time.Millisecond, 5*time.Millisecond),
		reconciler.WithSyncOptions(
			specsync.WithFallbackDelay(time.Millisecond),
			specsync.WithReloadDelay(time.Millisecond),
			specsync.WithIDGenerator(testutil.NewSequenceGenerator("chain")),
		),
	)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.rec.Run(runCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	if err := h.awaitInitialLoad(ctx, scenario.Fail); err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}

	for i, step := range scenario.Steps {
		h.setStep(i + 1)
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if err := h.settle(ctx); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		h.logger.Info("step completed", "step", i+1)
	}

	h.mu.Lock()
	result := h.result
	h.mu.Unlock()

	result.Snapshot = h.rec.Snapshot()
	result.Stats = h.rec.Stats()
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// execute performs one step.
func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Event != "":
		ev, err := toEvent(step)
		if err != nil {
			return err
		}
		return h.rec.Submit(ev)

	case step.Refresh:
		refreshCtx, cancel := context.WithTimeout(ctx, settleTimeout)
		defer cancel()
		err := h.rec.Refresh(refreshCtx)
		if err != nil && !reconciler.IsTransientFetch(err) {
			return err
		}
		h.mu.Lock()
		h.result.Trace = append(h.result.Trace, TraceEvent{
			Type:    TraceRefreshType,
			Step:    h.step,
			Success: err == nil,
		})
		h.mu.Unlock()
		return nil

	case step.Trainers != nil:
		h.backend.SetTrainers(toTrainers(step.Trainers))
	case step.Pending != nil:
		h.backend.SetPending(toPending(step.Pending))
	case step.Fail != nil:
		for call, n := range step.Fail {
			h.backend.Fail(call, n)
		}
	}
	return nil
}

// settle waits until the reconciler has no queued work, load or sync
// chain in flight.
func (h *Harness) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	return h.rec.WaitIdle(ctx)
}

// awaitInitialLoad waits for the first load to land. A retry of a failed
// initial load does not keep the reconciler busy, so scripted load failures
// that eventually clear are polled for. Permanent ones are not.
func (h *Harness) awaitInitialLoad(ctx context.Context, fail map[string]int) error {
	if err := h.settle(ctx); err != nil {
		return err
	}
	if fail[testutil.CallFetchTrainers] < 0 || fail[testutil.CallFetchPending] < 0 {
		return nil
	}

	deadline := time.Now().Add(settleTimeout)
	for !h.rec.Snapshot().Loaded {
		if time.Now().After(deadline) {
			return errors.New("reconciler never loaded")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return h.settle(ctx)
}

func (h *Harness) setStep(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.step = n
}

func (h *Harness) recordEvent(e reconciler.TraceEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Type:       TraceEventType,
		Step:       h.step,
		Seq:        e.Seq,
		Kind:       string(e.Kind),
		Cert:       e.CertKey,
		TrainerRef: e.TrainerRef,
		Trainer:    e.TrainerKey,
		Outcome:    string(e.Outcome),
		Reason:     e.Reason,
		Count:      e.Count,
		Replay:     e.Replay,
		Synced:     e.Synced,
	})
}

func (h *Harness) recordSync(o specsync.Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.Trace = append(h.result.Trace, TraceEvent{
		Type:    TraceSyncType,
		Step:    h.step,
		Chain:   o.ChainID,
		Trainer: o.TrainerKey,
		Tier:    o.Tier.String(),
		Success: o.Err == nil,
		Changed: o.Changed,
	})
}

func toEvent(step Step) (model.Event, error) {
	kind, ok := model.ParseKind(step.Event)
	if !ok {
		return model.Event{}, fmt.Errorf("unknown event kind %q", step.Event)
	}
	status, ok := model.ParseStatus(step.Status)
	if !ok {
		return model.Event{}, fmt.Errorf("unknown status %q", step.Status)
	}
	channel := step.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	ev := model.Event{
		ID:         step.ID,
		Kind:       kind,
		CertKey:    step.Cert,
		TrainerRef: step.Trainer,
		Status:     status,
		Channel:    channel,
	}
	switch kind {
	case model.KindCreated:
		ev.Record = model.CertificationRecord{
			Key:        step.Cert,
			TrainerKey: step.Trainer,
			Name:       step.Name,
			Status:     ev.EffectiveStatus(),
		}
	case model.KindUpdated:
		if step.Name != "" {
			name := step.Name
			ev.Patch.Name = &name
		}
	}
	return ev, nil
}

func toTrainers(specs []TrainerSpec) []model.Trainer {
	out := make([]model.Trainer, len(specs))
	for i, s := range specs {
		out[i] = model.Trainer{
			ID:                 s.ID,
			UserID:             s.UserID,
			Name:               s.Name,
			Specializations:    append([]string{}, s.Specializations...),
			HasSpecializations: true,
		}
	}
	return out
}

func toPending(specs []PendingSpec) []model.CertificationRecord {
	out := make([]model.CertificationRecord, len(specs))
	for i, s := range specs {
		out[i] = model.CertificationRecord{
			Key:        s.ID,
			TrainerKey: s.Trainer,
			Name:       s.Name,
			Status:     model.StatusPending,
		}
	}
	return out
}
