package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/certsync/internal/model"
)

// ErrScripted is returned by FakeBackend calls scripted to fail.
var ErrScripted = errors.New("scripted backend failure")

// Call names accepted by FakeBackend.Fail and FakeBackend.Calls.
const (
	CallFetchTrainers    = "fetch_trainers"
	CallFetchPending     = "fetch_pending"
	CallFetchTrainerByID = "fetch_trainer"
	CallRecompute        = "recompute"
)

// FakeBackend is an in-memory backend with scriptable failures. It serves
// the bulk load calls and the specialization sync calls.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeBackend struct {
	mu       sync.Mutex
	trainers []model.Trainer
	pending  []model.CertificationRecord

	// recomputed maps a trainer key to the list the recompute call returns.
	// Trainers without an entry return their stored list.
	recomputed map[string][]string

	failures map[string]int
	calls    map[string]int
	gate     chan struct{}
}

// NewFakeBackend creates a backend serving trainers and pending records.
func NewFakeBackend(trainers []model.Trainer, pending []model.CertificationRecord) *FakeBackend {
	return &FakeBackend{
		trainers:   cloneTrainers(trainers),
		pending:    slices.Clone(pending),
		recomputed: make(map[string][]string),
		failures:   make(map[string]int),
		calls:      make(map[string]int),
	}
}

// SetTrainers replaces the trainers served from now on.
func (b *FakeBackend) SetTrainers(trainers []model.Trainer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trainers = cloneTrainers(trainers)
}

// SetPending replaces the pending records served from now on.
func (b *FakeBackend) SetPending(pending []model.CertificationRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = slices.Clone(pending)
}

// SetRecomputed sets the specializations the recompute call returns for
// trainerKey and stores them on the trainer, as the real job would.
func (b *FakeBackend) SetRecomputed(trainerKey string, specs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recomputed[trainerKey] = slices.Clone(specs)
}

// Fail makes the next n calls named call fail with ErrScripted. A negative
// n fails every call until Fail is called again.
func (b *FakeBackend) Fail(call string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[call] = n
}

// Calls returns how many times call has been made.
func (b *FakeBackend) Calls(call string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[call]
}

// HoldLoads makes FetchTrainers block until ReleaseLoads is called.
func (b *FakeBackend) HoldLoads() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate == nil {
		b.gate = make(chan struct{})
	}
}

// ReleaseLoads unblocks held and future FetchTrainers calls.
func (b *FakeBackend) ReleaseLoads() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate != nil {
		close(b.gate)
		b.gate = nil
	}
}

// FetchTrainers returns every trainer.
func (b *FakeBackend) FetchTrainers(ctx context.Context) ([]model.Trainer, error) {
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(CallFetchTrainers); err != nil {
		return nil, err
	}
	return cloneTrainers(b.trainers), nil
}

// FetchPendingCertifications returns every pending record.
func (b *FakeBackend) FetchPendingCertifications(context.Context) ([]model.CertificationRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(CallFetchPending); err != nil {
		return nil, err
	}
	return slices.Clone(b.pending), nil
}

// FetchTrainerByID returns one trainer.
func (b *FakeBackend) FetchTrainerByID(_ context.Context, key string) (model.Trainer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(CallFetchTrainerByID); err != nil {
		return model.Trainer{}, err
	}
	for _, t := range b.trainers {
		if t.ID == key {
			t = t.Clone()
			t.HasSpecializations = true
			return t, nil
		}
	}
	return model.Trainer{}, fmt.Errorf("trainer %s not found", key)
}

// RecomputeSpecializations returns the trainer with its recomputed list.
// The recomputed list is also stored, so later fetches and loads see it.
func (b *FakeBackend) RecomputeSpecializations(_ context.Context, key string) (model.Trainer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.record(CallRecompute); err != nil {
		return model.Trainer{}, err
	}
	for i, t := range b.trainers {
		if t.ID != key {
			continue
		}
		if specs, ok := b.recomputed[key]; ok {
			b.trainers[i].Specializations = slices.Clone(specs)
		}
		out := b.trainers[i].Clone()
		out.HasSpecializations = true
		return out, nil
	}
	return model.Trainer{}, fmt.Errorf("trainer %s not found", key)
}

// record counts a call and consumes a scripted failure. Caller holds mu.
func (b *FakeBackend) record(call string) error {
	b.calls[call]++
	switch n := b.failures[call]; {
	case n < 0:
		return fmt.Errorf("%s: %w", call, ErrScripted)
	case n > 0:
		b.failures[call] = n - 1
		return fmt.Errorf("%s: %w", call, ErrScripted)
	}
	return nil
}

func cloneTrainers(in []model.Trainer) []model.Trainer {
	out := make([]model.Trainer, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}
