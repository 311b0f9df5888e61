// Package pending holds the pending-certification set: a mapping from
// trainer primary key to the certification records still awaiting
// verification, most recent first.
//
// Index is an immutable value. Every mutation that changes something
// returns a new top-level map and a new slice for the affected trainer,
// leaving the receiver untouched; a mutation that changes nothing returns
// the receiver itself. Consumers can therefore detect change by identity.
package pending

import (
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/roach88/certsync/internal/model"
)

// Index maps a trainer key to its pending records.
type Index map[string][]model.CertificationRecord

// Add inserts rec at the front of trainerKey's records. It is a no-op if a
// record with the same certification key is already present for that trainer.
func (ix Index) Add(trainerKey string, rec model.CertificationRecord) (Index, bool) {
	recs := ix[trainerKey]
	if indexOf(recs, rec.Key) >= 0 {
		return ix, false
	}
	rec.TrainerKey = trainerKey
	next := make([]model.CertificationRecord, 0, len(recs)+1)
	next = append(next, rec)
	next = append(next, recs...)
	return ix.with(trainerKey, next), true
}

// Remove deletes the record with certKey from trainerKey's records.
// It is a no-op if no such record exists. A trainer whose last record is
// removed is dropped from the index.
func (ix Index) Remove(trainerKey, certKey string) (Index, bool) {
	recs := ix[trainerKey]
	i := indexOf(recs, certKey)
	if i < 0 {
		return ix, false
	}
	next := slices.Delete(slices.Clone(recs), i, i+1)
	return ix.with(trainerKey, next), true
}

// Update applies patch to the record with certKey under trainerKey and
// stamps it with now. It is a no-op if no such record exists; callers add
// the record themselves when it is absent and still pending.
func (ix Index) Update(trainerKey, certKey string, patch model.Patch, now time.Time) (Index, bool) {
	recs := ix[trainerKey]
	i := indexOf(recs, certKey)
	if i < 0 {
		return ix, false
	}
	next := slices.Clone(recs)
	next[i] = patch.Apply(next[i], now)
	return ix.with(trainerKey, next), true
}

// Get returns the record for certKey under trainerKey.
func (ix Index) Get(trainerKey, certKey string) (model.CertificationRecord, bool) {
	recs := ix[trainerKey]
	if i := indexOf(recs, certKey); i >= 0 {
		return recs[i], true
	}
	return model.CertificationRecord{}, false
}

// CountFor returns the number of distinct certification keys stored under
// trainerKey and any of aliasKeys.
func (ix Index) CountFor(trainerKey string, aliasKeys ...string) int {
	seen := make(map[string]struct{})
	for _, rec := range ix[trainerKey] {
		seen[rec.Key] = struct{}{}
	}
	for _, alias := range aliasKeys {
		if alias == trainerKey {
			continue
		}
		for _, rec := range ix[alias] {
			seen[rec.Key] = struct{}{}
		}
	}
	return len(seen)
}

// Keys returns the trainer keys in sorted order.
func (ix Index) Keys() []string {
	keys := make([]string, 0, len(ix))
	for k := range ix {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the total number of records across all trainers.
func (ix Index) Len() int {
	n := 0
	for _, recs := range ix {
		n += len(recs)
	}
	return n
}

// with returns a copy of ix with trainerKey set to recs, or removed if
// recs is empty.
func (ix Index) with(trainerKey string, recs []model.CertificationRecord) Index {
	out := maps.Clone(ix)
	if out == nil {
		out = make(Index, 1)
	}
	if len(recs) == 0 {
		delete(out, trainerKey)
	} else {
		out[trainerKey] = recs
	}
	return out
}

func indexOf(recs []model.CertificationRecord, certKey string) int {
	return slices.IndexFunc(recs, func(r model.CertificationRecord) bool {
		return r.Key == certKey
	})
}

// GroupByTrainer builds an Index from records by their trainer key. Records
// are ordered most recent first by CreatedAt, ties keeping input order, and
// duplicate certification keys keep their first occurrence. Records whose
// status is not PENDING are skipped.
func GroupByTrainer(records []model.CertificationRecord) Index {
	out := make(Index)
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.Key == "" || rec.TrainerKey == "" {
			continue
		}
		if rec.Status != "" && rec.Status != model.StatusPending {
			continue
		}
		if _, dup := seen[rec.Key]; dup {
			continue
		}
		seen[rec.Key] = struct{}{}
		out[rec.TrainerKey] = append(out[rec.TrainerKey], rec)
	}
	for k, recs := range out {
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		})
		out[k] = recs
	}
	return out
}
