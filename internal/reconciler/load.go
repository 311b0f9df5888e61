package reconciler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/certsync/internal/identity"
	"github.com/roach88/certsync/internal/loader"
	"github.com/roach88/certsync/internal/model"
)

var errNoBackend = errors.New("no backend configured")

// requestReload starts a bulk load, or arranges for one more load after
// the one in flight. done, if non-nil, runs on the loop with the result of
// the first load that starts after this request. Called only on the loop.
func (r *Reconciler) requestReload(reason string, done func(error)) {
	if done != nil {
		r.reloadWaiters = append(r.reloadWaiters, done)
	}
	if r.loading {
		r.reloadAgain = true
		slog.Debug("bulk reload coalesced", "reason", reason)
		return
	}
	r.startLoad(reason)
}

func (r *Reconciler) startLoad(reason string) {
	waiters := r.reloadWaiters
	r.reloadWaiters = nil

	if r.loader == nil {
		err := newTransientFetchError("bulk load", errNoBackend)
		for _, fn := range waiters {
			fn(err)
		}
		return
	}

	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	if r.loaded {
		// Before the first success the window keeps every event since start.
		r.window = r.window[:0]
	}

	r.loading = true
	r.loadGen++
	r.inflightWaiters = waiters
	r.reloads.Add(1)

	gen := r.loadGen
	ldr := r.loader
	ctx := r.ctx
	slog.Info("bulk load started", "reason", reason, "gen", gen)

	go func() {
		res, err := ldr.LoadAll(ctx)
		if ctx.Err() != nil {
			return
		}
		r.queue.Enqueue(task{Type: taskLoad, Load: loadResult{gen: gen, result: res, err: err}})
	}()
}

// onLoad applies a finished load. Called only on the loop.
func (r *Reconciler) onLoad(lr loadResult) {
	if lr.gen != r.loadGen {
		return
	}
	r.loading = false
	waiters := r.inflightWaiters
	r.inflightWaiters = nil

	var result error
	if lr.err != nil {
		result = newTransientFetchError("bulk load", lr.err)
		r.reloadFailures.Add(1)
		r.metrics.RecordReload(false)
		slog.Error("bulk reload failed", "gen", lr.gen, "loaded", r.loaded, "error", lr.err)
		if !r.loaded && r.initialLoad && !r.reloadAgain {
			r.scheduleLoadRetry()
		}
	} else {
		r.applyLoad(lr.result)
		r.retry.Reset()
		r.metrics.RecordReload(true)
	}

	for _, fn := range waiters {
		fn(result)
	}

	if r.reloadAgain || len(r.reloadWaiters) > 0 {
		r.reloadAgain = false
		r.startLoad("coalesced reload")
	}
}

// applyLoad replaces trainers and pending records with res, then replays
// the events accepted while the load was in flight.
func (r *Reconciler) applyLoad(res loader.Result) {
	r.trainers = res.Trainers
	r.ids = identity.NewIndex(res.Trainers)

	// Authoritative pending state. RESOLVED tombstones survive unless the
	// load lists the certification as pending again.
	certs := make(map[string]certState, len(r.certs)+res.Pending.Len())
	for key, st := range r.certs {
		if st.phase == phaseResolved {
			certs[key] = st
		}
	}
	for trainerKey, recs := range res.Pending {
		for _, rec := range recs {
			if certs[rec.Key].phase == phaseResolved {
				// New lifecycle. Its events must not match fingerprints
				// left over from the previous one.
				r.epochs[rec.Key]++
				r.dedup.Forget(rec.Key)
				slog.Info("certification reinstated by load", "cert", rec.Key, "epoch", r.epochs[rec.Key])
			}
			certs[rec.Key] = certState{phase: phasePending, trainerKey: trainerKey, status: rec.Status}
		}
	}
	r.certs = certs

	if err := r.store.Replace(res.Pending); err != nil {
		return
	}
	r.loaded = true

	r.unresolved = make(map[string]time.Time)
	if r.unresolvedTimer != nil {
		r.unresolvedTimer.Stop()
		r.unresolvedTimer = nil
	}

	window := r.window
	r.window = nil
	for _, ev := range window {
		r.handleEvent(ev, true)
	}

	slog.Info("bulk load applied",
		"trainers", len(res.Trainers),
		"pending", r.store.Current().Len(),
		"replayed", len(window),
	)
	r.publish()
}

// remember keeps ev for replay after the load in flight, or after the
// first successful load.
func (r *Reconciler) remember(ev model.Event) {
	if !r.loading && (r.loaded || !r.initialLoad) {
		return
	}
	if len(r.window) >= r.replayLimit {
		slog.Warn("replay window full, dropping oldest event", "limit", r.replayLimit)
		r.window = r.window[1:]
	}
	r.window = append(r.window, ev)
}

// noteUnresolved records an identifier that matched no trainer after a
// load, and arms a reload if one is not already scheduled.
func (r *Reconciler) noteUnresolved(ref string) {
	if _, ok := r.unresolved[ref]; !ok {
		r.unresolved[ref] = r.now()
		slog.Warn("identifier unresolved", "trainer_ref", ref, "reload_after", r.unresolvedReloadAfter)
	}
	if r.unresolvedTimer != nil || r.unresolvedReloadAfter <= 0 {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(r.unresolvedReloadAfter, func() {
		r.Post(func() {
			if r.unresolvedTimer != timer {
				return
			}
			r.unresolvedTimer = nil
			if len(r.unresolved) == 0 {
				return
			}
			r.requestReload("unresolved identifiers", nil)
		})
	})
	r.unresolvedTimer = timer
}

func (r *Reconciler) scheduleLoadRetry() {
	d := r.retry.NextBackOff()
	if d == backoff.Stop {
		slog.Error("initial load retries exhausted")
		return
	}
	slog.Info("initial load retry scheduled", "in", d)
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		r.Post(func() {
			if r.retryTimer != timer {
				return
			}
			r.retryTimer = nil
			if !r.loaded && !r.loading {
				r.requestReload("initial load retry", nil)
			}
		})
	})
	r.retryTimer = timer
}
