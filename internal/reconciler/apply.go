package reconciler

import (
	"errors"
	"log/slog"

	"github.com/roach88/certsync/internal/identity"
	"github.com/roach88/certsync/internal/model"
)

// handleEvent reconciles one event. replay is set when the event is being
// re-applied on top of a fresh bulk load: it bypasses the dedup window,
// the journal and specialization syncs, which already saw it the first time.
// Called only on the loop.
func (r *Reconciler) handleEvent(ev model.Event, replay bool) {
	entry := TraceEntry{
		Seq:        r.clock.Next(),
		Kind:       ev.Kind,
		CertKey:    ev.CertKey,
		TrainerRef: ev.TrainerRef,
		Channel:    ev.Channel,
		Replay:     replay,
	}

	key, parked, err := r.locate(ev)
	if err != nil {
		r.drop(entry, err)
		return
	}
	entry.TrainerKey = key
	entry.Parked = parked

	fp, err := model.Fingerprint(ev, key, r.epochs[ev.CertKey])
	if err != nil {
		r.drop(entry, newMalformedError(err.Error(), ev.TrainerRef, ev.CertKey))
		return
	}

	if !replay {
		if r.dedup.Contains(fp) {
			r.duplicates.Add(1)
			entry.Outcome = OutcomeDuplicate
			slog.Debug("duplicate event",
				"kind", ev.Kind,
				"cert", ev.CertKey,
				"trainer", key,
				"channel", ev.Channel,
			)
			r.emit(entry)
			return
		}
		r.dedup.Add(ev.CertKey, fp, ev.Kind == model.KindUpdated && !ev.EffectiveStatus().IsTerminal())

		if r.journal != nil {
			if err := r.journal.Append(r.ctx, entry.Seq, fp, key, ev); err != nil {
				slog.Error("journal append failed", "cert", ev.CertKey, "error", err)
			}
		}
		r.remember(ev)
	}

	before := r.store.Version()
	entry.Outcome, entry.Synced = r.transition(ev, key, replay)
	r.applied.Add(1)
	if entry.Outcome == OutcomeUpdated && !replay {
		r.dedup.Supersede(ev.CertKey, fp)
	}
	if r.store.Version() != before {
		r.publish()
	}

	slog.Debug("event applied",
		"seq", entry.Seq,
		"kind", ev.Kind,
		"cert", ev.CertKey,
		"trainer", key,
		"outcome", entry.Outcome,
		"parked", parked,
	)
	r.emit(entry)
}

// locate resolves the trainer key an event applies to.
//
// An empty key with a nil error means the event carries no usable trainer
// identifier and its certification has no known location; only
// tombstoning transitions can still apply.
func (r *Reconciler) locate(ev model.Event) (key string, parked bool, err error) {
	if ev.CertKey == "" {
		return "", false, newMalformedError("event without certification key", ev.TrainerRef, "")
	}
	switch ev.Kind {
	case model.KindCreated, model.KindUpdated, model.KindDeleted:
	default:
		return "", false, newMalformedError("unknown event kind "+string(ev.Kind), ev.TrainerRef, ev.CertKey)
	}

	st := r.certs[ev.CertKey]
	ref := identity.Canonical(ev.TrainerRef)
	if ref == "" {
		if ev.Kind == model.KindCreated {
			return "", false, newMalformedError("created event without trainer identifier", "", ev.CertKey)
		}
		return st.trainerKey, false, nil
	}

	res := r.ids.Resolve(ref)
	if res.Resolved {
		return res.Key, false, nil
	}
	if st.phase == phasePending && st.trainerKey != "" {
		// The record is already filed; the identifier is a stale alias.
		return st.trainerKey, false, nil
	}
	if r.loading || !r.loaded {
		// Trainers are not (re)loaded yet. File under the raw identifier;
		// the load replay re-resolves it.
		return res.Key, true, nil
	}

	r.noteUnresolved(ref)
	return "", false, newUnresolvableError(ref, ev.CertKey)
}

// transition applies the per-certification state machine and reports what
// it did and whether a specialization sync was requested.
func (r *Reconciler) transition(ev model.Event, key string, replay bool) (Outcome, bool) {
	st := r.certs[ev.CertKey]
	status := ev.EffectiveStatus()

	switch {
	case ev.Kind == model.KindDeleted:
		return r.resolve(ev.CertKey, st, key, ""), false

	case status.IsTerminal():
		out := r.resolve(ev.CertKey, st, key, status)
		if status != model.StatusVerified || st.status == model.StatusVerified || replay {
			return out, false
		}
		target := st.trainerKey
		if target == "" {
			target = key
		}
		return out, r.requestSync(target, ev.CertKey)

	case status == model.StatusPending:
		switch st.phase {
		case phaseResolved:
			return OutcomeIgnored, false
		case phasePending:
			if ev.Kind == model.KindUpdated {
				return r.update(st.trainerKey, ev), false
			}
			return OutcomeNoop, false
		}
		if key == "" {
			return OutcomeIgnored, false
		}
		return r.add(key, ev), false

	default:
		// updated without status: patch only if tracked as pending.
		if st.phase == phasePending {
			return r.update(st.trainerKey, ev), false
		}
		return OutcomeIgnored, false
	}
}

func (r *Reconciler) add(key string, ev model.Event) Outcome {
	now := r.now()
	rec := ev.Record
	rec.Key = ev.CertKey
	rec.Status = model.StatusPending
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	changed, err := r.store.Add(key, rec)
	if err != nil {
		return OutcomeDropped
	}
	r.certs[ev.CertKey] = certState{phase: phasePending, trainerKey: key, status: model.StatusPending}
	if !changed {
		return OutcomeNoop
	}
	return OutcomeAdded
}

func (r *Reconciler) update(key string, ev model.Event) Outcome {
	patch := ev.Patch
	if patch.Status == nil && ev.Status != "" {
		s := ev.Status
		patch.Status = &s
	}
	changed, err := r.store.Update(key, ev.CertKey, patch, r.now())
	if err != nil {
		return OutcomeDropped
	}
	if !changed {
		return OutcomeNoop
	}
	return OutcomeUpdated
}

// resolve moves a certification to RESOLVED, removing its pending record
// if it has one. status is empty for deletions.
func (r *Reconciler) resolve(certKey string, st certState, key string, status model.Status) Outcome {
	out := OutcomeTombstoned
	if st.phase == phasePending {
		changed, err := r.store.Remove(st.trainerKey, certKey)
		if err != nil {
			return OutcomeDropped
		}
		if changed {
			out = OutcomeRemoved
		}
	}

	next := certState{phase: phaseResolved, trainerKey: st.trainerKey, status: st.status}
	if next.trainerKey == "" {
		next.trainerKey = key
	}
	if status != "" {
		next.status = status
	}
	r.certs[certKey] = next
	return out
}

// requestSync starts a specialization sync for a trainer whose
// certification reached VERIFIED.
func (r *Reconciler) requestSync(trainerKey, certKey string) bool {
	if r.syncDisabled {
		return false
	}
	if !r.ids.Known(trainerKey) {
		// The pending or next load fetches current specializations anyway.
		slog.Debug("specialization sync skipped: trainer not loaded",
			"trainer", trainerKey,
			"cert", certKey,
		)
		return false
	}
	r.syncs.Add(1)
	r.sync.Sync(trainerKey)
	return true
}

func (r *Reconciler) drop(entry TraceEntry, err error) {
	r.dropped.Add(1)
	entry.Outcome = OutcomeDropped
	var re *ReconcileError
	if errors.As(err, &re) {
		entry.Reason = string(re.Code)
	}
	slog.Warn("event dropped",
		"kind", entry.Kind,
		"cert", entry.CertKey,
		"trainer_ref", entry.TrainerRef,
		"reason", entry.Reason,
		"error", err,
	)
	r.emit(entry)
}

func (r *Reconciler) emit(entry TraceEntry) {
	r.metrics.RecordEvent(string(entry.Kind), string(entry.Outcome))
	if len(r.tracers) == 0 {
		return
	}
	if entry.TrainerKey != "" {
		entry.Count = r.Snapshot().CountFor(entry.TrainerKey)
	}
	for _, fn := range r.tracers {
		fn(entry)
	}
}
