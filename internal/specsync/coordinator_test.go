package specsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/certsync/internal/model"
)

// loopHost runs posted functions on a single goroutine, standing in for the
// reconciler loop.
type loopHost struct {
	fns  chan func()
	done chan struct{}

	// Owned by the loop goroutine.
	trainers    map[string]model.Trainer
	reloads     int
	reloadErr   error
	reloadSpecs []string
}

func newLoopHost(t *testing.T) *loopHost {
	h := &loopHost{
		fns:      make(chan func()),
		done:     make(chan struct{}),
		trainers: map[string]model.Trainer{"T1": {ID: "T1"}, "T2": {ID: "T2"}},
	}
	go func() {
		for {
			select {
			case fn := <-h.fns:
				fn()
			case <-h.done:
				return
			}
		}
	}()
	t.Cleanup(func() { close(h.done) })
	return h
}

func (h *loopHost) Post(fn func()) bool {
	select {
	case h.fns <- fn:
		return true
	case <-h.done:
		return false
	}
}

// run executes fn on the loop and waits for it.
func (h *loopHost) run(fn func()) {
	finished := make(chan struct{})
	h.Post(func() {
		fn()
		close(finished)
	})
	<-finished
}

func (h *loopHost) Trainer(key string) (model.Trainer, bool) {
	t, ok := h.trainers[key]
	return t, ok
}

func (h *loopHost) SetSpecializations(key string, specs []string) bool {
	t, ok := h.trainers[key]
	if !ok || model.SameSpecializations(t.Specializations, specs) {
		return false
	}
	t.Specializations = specs
	h.trainers[key] = t
	return true
}

func (h *loopHost) Reload(_ string, done func(error)) {
	h.reloads++
	err := h.reloadErr
	go h.Post(func() {
		if err == nil {
			for key, t := range h.trainers {
				t.Specializations = h.reloadSpecs
				h.trainers[key] = t
			}
		}
		done(err)
	})
}

func (h *loopHost) specs(key string) []string {
	var out []string
	h.run(func() { out = h.trainers[key].Specializations })
	return out
}

type fakeBackend struct {
	mu             sync.Mutex
	recompute      func(key string) (model.Trainer, error)
	fetch          func(key string) (model.Trainer, error)
	recomputeCalls int
	fetchCalls     int
}

func (b *fakeBackend) RecomputeSpecializations(_ context.Context, key string) (model.Trainer, error) {
	b.mu.Lock()
	b.recomputeCalls++
	fn := b.recompute
	b.mu.Unlock()
	return fn(key)
}

func (b *fakeBackend) FetchTrainerByID(_ context.Context, key string) (model.Trainer, error) {
	b.mu.Lock()
	b.fetchCalls++
	fn := b.fetch
	b.mu.Unlock()
	return fn(key)
}

func (b *fakeBackend) calls() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recomputeCalls, b.fetchCalls
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("chain-%d", s.n)
}

var errDown = errors.New("backend down")

func failing(string) (model.Trainer, error) { return model.Trainer{}, errDown }

func withSpecs(specs ...string) func(string) (model.Trainer, error) {
	return func(key string) (model.Trainer, error) {
		return model.Trainer{ID: key, Specializations: specs, HasSpecializations: true}, nil
	}
}

func newTestCoordinator(t *testing.T, b Backend, h Host) (*Coordinator, chan Outcome) {
	outcomes := make(chan Outcome, 16)
	c := New(context.Background(), b, h,
		WithFallbackDelay(5*time.Millisecond),
		WithReloadDelay(5*time.Millisecond),
		WithCallTimeout(time.Second),
		WithIDGenerator(&seqIDs{}),
		WithObserver(func(o Outcome) { outcomes <- o }),
	)
	return c, outcomes
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync outcome")
		return Outcome{}
	}
}

func TestSync_RecomputeSucceeds(t *testing.T) {
	h := newLoopHost(t)
	b := &fakeBackend{recompute: withSpecs(" HIIT ", "", "Boxing"), fetch: failing}
	c, outcomes := newTestCoordinator(t, b, h)

	h.run(func() { c.Sync("T1") })
	out := waitOutcome(t, outcomes)

	assert.Equal(t, TierRecompute, out.Tier)
	assert.NoError(t, out.Err)
	assert.True(t, out.Changed)
	assert.Equal(t, "chain-1", out.ChainID)
	assert.Equal(t, []string{"HIIT", "Boxing"}, h.specs("T1"))

	_, fetches := b.calls()
	assert.Equal(t, 0, fetches, "later tiers do not run after success")
}

func TestSync_RecomputeWithoutSpecializationsFallsBack(t *testing.T) {
	h := newLoopHost(t)
	b := &fakeBackend{
		recompute: func(key string) (model.Trainer, error) { return model.Trainer{ID: key}, nil },
		fetch:     withSpecs("Yoga"),
	}
	c, outcomes := newTestCoordinator(t, b, h)

	h.run(func() { c.Sync("T1") })
	out := waitOutcome(t, outcomes)

	assert.Equal(t, TierFetch, out.Tier)
	assert.NoError(t, out.Err)
	assert.Equal(t, []string{"Yoga"}, h.specs("T1"))
}

func TestSync_FetchAppliesOnlyWhenDifferent(t *testing.T) {
	h := newLoopHost(t)
	h.run(func() { h.trainers["T1"] = model.Trainer{ID: "T1", Specializations: []string{"Yoga"}} })
	b := &fakeBackend{recompute: failing, fetch: withSpecs("Yoga")}
	c, outcomes := newTestCoordinator(t, b, h)

	h.run(func() { c.Sync("T1") })
	out := waitOutcome(t, outcomes)

	assert.Equal(t, TierFetch, out.Tier)
	assert.False(t, out.Changed)
}

func TestSync_FallsThroughToReload(t *testing.T) {
	h := newLoopHost(t)
	h.run(func() { h.reloadSpecs = []string{"Pilates"} })
	b := &fakeBackend{recompute: failing, fetch: failing}
	c, outcomes := newTestCoordinator(t, b, h)

	var tiers []Tier
	c.tierObservers = append(c.tierObservers, func(_, _ string, tier Tier, err error) {
		assert.ErrorIs(t, err, errDown)
		tiers = append(tiers, tier)
	})

	h.run(func() { c.Sync("T1") })
	out := waitOutcome(t, outcomes)

	assert.Equal(t, TierReload, out.Tier)
	assert.NoError(t, out.Err)
	assert.Equal(t, []string{"Pilates"}, h.specs("T1"), "specializations equal the reload response")

	var reloads int
	h.run(func() { reloads = h.reloads })
	assert.Equal(t, 1, reloads)
	assert.Equal(t, []Tier{TierRecompute, TierFetch}, tiers)
}

func TestSync_ReloadFailureEndsChainWithError(t *testing.T) {
	h := newLoopHost(t)
	h.run(func() { h.reloadErr = errDown })
	b := &fakeBackend{recompute: failing, fetch: failing}
	c, outcomes := newTestCoordinator(t, b, h)

	h.run(func() { c.Sync("T1") })
	out := waitOutcome(t, outcomes)

	assert.Equal(t, TierReload, out.Tier)
	assert.ErrorIs(t, out.Err, errDown)

	var active int
	h.run(func() { active = c.Active() })
	assert.Equal(t, 0, active)
}

func TestSync_CoalescesWhileInFlight(t *testing.T) {
	h := newLoopHost(t)
	release := make(chan struct{})
	b := &fakeBackend{fetch: failing}
	b.recompute = func(key string) (model.Trainer, error) {
		<-release
		return model.Trainer{ID: key, Specializations: []string{"Yoga"}, HasSpecializations: true}, nil
	}
	c, outcomes := newTestCoordinator(t, b, h)

	h.run(func() {
		c.Sync("T1")
		c.Sync("T1")
		c.Sync("T1")
		assert.True(t, c.InFlight("T1"))
		assert.Equal(t, 1, c.Active())
	})
	close(release)

	first := waitOutcome(t, outcomes)
	second := waitOutcome(t, outcomes)
	assert.Equal(t, "chain-1", first.ChainID)
	assert.Equal(t, "chain-2", second.ChainID, "one re-run for all coalesced requests")

	select {
	case extra := <-outcomes:
		t.Fatalf("unexpected third chain %s", extra.ChainID)
	case <-time.After(50 * time.Millisecond):
	}
	recomputes, _ := b.calls()
	assert.Equal(t, 2, recomputes)
}

func TestSync_ChainsAreIndependentPerTrainer(t *testing.T) {
	h := newLoopHost(t)
	b := &fakeBackend{fetch: withSpecs("Fetched")}
	b.recompute = func(key string) (model.Trainer, error) {
		if key == "T1" {
			return model.Trainer{}, errDown
		}
		return model.Trainer{ID: key, Specializations: []string{"Direct"}, HasSpecializations: true}, nil
	}
	c, outcomes := newTestCoordinator(t, b, h)

	h.run(func() {
		c.Sync("T1")
		c.Sync("T2")
	})

	got := map[string]Tier{}
	for range 2 {
		o := waitOutcome(t, outcomes)
		got[o.TrainerKey] = o.Tier
	}
	assert.Equal(t, map[string]Tier{"T1": TierFetch, "T2": TierRecompute}, got)
	assert.Equal(t, []string{"Fetched"}, h.specs("T1"))
	assert.Equal(t, []string{"Direct"}, h.specs("T2"))
}

func TestStop_CancelsPendingTiers(t *testing.T) {
	h := newLoopHost(t)
	b := &fakeBackend{recompute: failing, fetch: withSpecs("late")}
	outcomes := make(chan Outcome, 4)
	failed := make(chan struct{}, 1)
	c := New(context.Background(), b, h,
		WithFallbackDelay(50*time.Millisecond),
		WithObserver(func(o Outcome) { outcomes <- o }),
		WithTierObserver(func(string, string, Tier, error) { failed <- struct{}{} }),
	)

	h.run(func() { c.Sync("T1") })
	<-failed
	h.run(c.Stop)

	time.Sleep(100 * time.Millisecond)
	_, fetches := b.calls()
	assert.Equal(t, 0, fetches, "tier 2 must not run after Stop")
	assert.Empty(t, outcomes)
	assert.Empty(t, h.specs("T1"))

	h.run(func() { c.Sync("T1") })
	recomputes, _ := b.calls()
	assert.Equal(t, 1, recomputes, "Sync after Stop is ignored")
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "recompute", TierRecompute.String())
	assert.Equal(t, "fetch", TierFetch.String())
	assert.Equal(t, "reload", TierReload.String())
	require.Equal(t, "tier(9)", Tier(9).String())
}
