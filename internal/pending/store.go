package pending

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/roach88/certsync/internal/model"
)

// ErrDisposed is returned by mutations on a disposed Store.
var ErrDisposed = errors.New("pending store disposed")

// Store owns the current Index for one reconciler instance.
//
// Mutations must come from a single goroutine (the reconciler loop).
// Current and Version may be called from any goroutine; they observe the
// Index published by the last completed mutation.
type Store struct {
	current  atomic.Pointer[Index]
	version  atomic.Int64
	disposed atomic.Bool
}

// New creates an empty Store.
func New() *Store {
	s := &Store{}
	empty := Index{}
	s.current.Store(&empty)
	return s
}

// Dispose releases the Store. Subsequent mutations fail with ErrDisposed.
func (s *Store) Dispose() {
	if s.disposed.Swap(true) {
		return
	}
	empty := Index{}
	s.current.Store(&empty)
}

// Disposed reports whether Dispose has been called.
func (s *Store) Disposed() bool {
	return s.disposed.Load()
}

// Current returns the published Index. The returned value must not be mutated.
func (s *Store) Current() Index {
	return *s.current.Load()
}

// Version increments on every mutation that changed the Index.
func (s *Store) Version() int64 {
	return s.version.Load()
}

// Add inserts rec under trainerKey. See Index.Add.
func (s *Store) Add(trainerKey string, rec model.CertificationRecord) (bool, error) {
	return s.apply(func(ix Index) (Index, bool) { return ix.Add(trainerKey, rec) })
}

// Remove deletes certKey under trainerKey. See Index.Remove.
func (s *Store) Remove(trainerKey, certKey string) (bool, error) {
	return s.apply(func(ix Index) (Index, bool) { return ix.Remove(trainerKey, certKey) })
}

// Update patches certKey under trainerKey. See Index.Update.
func (s *Store) Update(trainerKey, certKey string, patch model.Patch, now time.Time) (bool, error) {
	return s.apply(func(ix Index) (Index, bool) { return ix.Update(trainerKey, certKey, patch, now) })
}

// Replace swaps in next wholesale. It always counts as a change.
func (s *Store) Replace(next Index) error {
	_, err := s.apply(func(Index) (Index, bool) {
		if next == nil {
			next = Index{}
		}
		return next, true
	})
	return err
}

func (s *Store) apply(fn func(Index) (Index, bool)) (bool, error) {
	if s.disposed.Load() {
		return false, ErrDisposed
	}
	next, changed := fn(s.Current())
	if !changed {
		return false, nil
	}
	s.current.Store(&next)
	s.version.Add(1)
	return true, nil
}
