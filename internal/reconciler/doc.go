// Package reconciler keeps per-trainer pending certification counts in step
// with a bulk snapshot and an unordered, at-least-once stream of
// certification events.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// Run processes every task on one goroutine. Tasks are certification
// events (Submit), bulk load results, and closures posted by collaborators
// that run off the loop (specialization sync calls, timers). All state
// (trainer list, pending store, per-certification phase, dedup window) is
// touched only by the loop, so no locks guard it.
//
// Event Processing Flow:
//  1. The trainer identifier is resolved to a primary key.
//  2. The event fingerprint is checked against the dedup window.
//  3. The event is appended to the journal, if one is configured.
//  4. The per-certification transition runs (UNSEEN, PENDING, RESOLVED).
//  5. A new Snapshot is published if anything changed.
//
// Every transition is safe to re-apply and no event must arrive after
// another for correctness. RESOLVED is sticky until a bulk load reports the
// certification as pending again.
//
// Loads replace trainers and pending records as one unit. Events applied
// while a load is in flight are replayed on top of its result so the
// replacement never erases newer pushes. Concurrent reload requests share
// one load, plus one more if requested while it ran.
//
// Errors never stop the loop: unresolvable and malformed events are logged
// and dropped, failed loads leave the last good state in place.
package reconciler
