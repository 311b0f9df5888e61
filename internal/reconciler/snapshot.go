package reconciler

import (
	"context"
	"sync"

	"github.com/roach88/certsync/internal/identity"
	"github.com/roach88/certsync/internal/model"
	"github.com/roach88/certsync/internal/pending"
)

// Snapshot is an immutable view of reconciler state. A new Snapshot, with
// a new pointer identity, is published on every change.
type Snapshot struct {
	Version int64

	// Loaded reports whether a bulk load has completed.
	Loaded bool

	Trainers []model.Trainer
	Pending  pending.Index

	// Counts maps a trainer primary key to its deduplicated pending count,
	// including records still filed under the trainer's secondary key.
	// Keys that match no trainer appear under their raw value.
	Counts map[string]int
}

// CountFor returns the pending count for a trainer primary key.
func (s *Snapshot) CountFor(trainerKey string) int {
	return s.Counts[trainerKey]
}

// Trainer returns the trainer with primary key key.
func (s *Snapshot) Trainer(key string) (model.Trainer, bool) {
	for _, t := range s.Trainers {
		if t.ID == key {
			return t, true
		}
	}
	return model.Trainer{}, false
}

// PendingFor returns the pending records for a trainer, including those
// filed under its secondary key, most recent first.
func (s *Snapshot) PendingFor(trainerKey string) []model.CertificationRecord {
	out := append([]model.CertificationRecord(nil), s.Pending[trainerKey]...)
	for _, alias := range identity.Aliases(trainerKey, s.Trainers) {
		for _, rec := range s.Pending[alias] {
			if _, dup := s.Pending.Get(trainerKey, rec.Key); !dup {
				out = append(out, rec)
			}
		}
	}
	return out
}

func buildSnapshot(version int64, loaded bool, trainers []model.Trainer, ix pending.Index) *Snapshot {
	counts := make(map[string]int, len(trainers)+len(ix))
	covered := make(map[string]struct{}, len(trainers)*2)
	for _, t := range trainers {
		aliases := identity.Aliases(t.ID, trainers)
		counts[t.ID] = ix.CountFor(t.ID, aliases...)
		covered[t.ID] = struct{}{}
		for _, a := range aliases {
			covered[a] = struct{}{}
		}
	}
	for key := range ix {
		if _, ok := covered[key]; !ok {
			counts[key] = ix.CountFor(key)
		}
	}
	return &Snapshot{
		Version:  version,
		Loaded:   loaded,
		Trainers: trainers,
		Pending:  ix,
		Counts:   counts,
	}
}

// watchers fans published snapshots out to subscribers. Each subscriber
// has a one-slot buffer holding the newest undelivered snapshot.
type watchers struct {
	mu     sync.Mutex
	subs   map[chan *Snapshot]struct{}
	closed bool
}

func newWatchers() *watchers {
	return &watchers{subs: make(map[chan *Snapshot]struct{})}
}

func (w *watchers) add(ctx context.Context, current *Snapshot) <-chan *Snapshot {
	ch := make(chan *Snapshot, 1)
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		close(ch)
		return ch
	}
	ch <- current
	w.subs[ch] = struct{}{}

	context.AfterFunc(ctx, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, ok := w.subs[ch]; ok {
			delete(w.subs, ch)
			close(ch)
		}
	})
	return ch
}

func (w *watchers) publish(s *Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for ch := range w.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// Replace the stale undelivered snapshot.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func (w *watchers) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	for ch := range w.subs {
		delete(w.subs, ch)
		close(ch)
	}
}
