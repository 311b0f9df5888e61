// Package harness runs reconciler scenarios described in YAML and checks
// their outcome.
//
// A scenario seeds an in-memory backend, starts a reconciler against it,
// feeds it a sequence of steps and evaluates assertions on the final
// state. The processing trace can be compared against a golden file.
//
// # Scenario Format
//
//	name: verified_syncs_specializations
//	description: "A VERIFIED update removes the record and recomputes specializations"
//	trainers:
//	  - { id: T1, user_id: U1, specializations: [strength] }
//	pending:
//	  - { id: C0, trainer: T1 }
//	recomputed:
//	  T1: [strength, mobility]
//	fail:
//	  fetch_trainer: 1
//	steps:
//	  - { event: created, cert: C1, trainer: U1 }
//	  - { event: updated, cert: C1, status: VERIFIED }
//	  - { refresh: true }
//	assertions:
//	  - { type: pending_count, trainer: T1, count: 1 }
//	  - { type: specializations, trainer: T1, values: [strength, mobility] }
//	  - { type: sync_tier, trainer: T1, tier: recompute }
//
// # Steps
//
// Each step does exactly one thing:
//
//   - event: submits a certification event (created, updated or deleted)
//   - refresh: requests a bulk reload and waits for it
//   - pending / trainers: replace what the backend serves from then on
//   - fail: scripts backend failures by call name
//
// The harness waits for the reconciler to go idle after every step, so
// sync chains and reloads started by a step finish before the next one.
//
// # Assertion Types
//
//   - pending_count: the deduplicated pending count of a trainer
//   - specializations: a trainer's local specializations
//   - sync_count: number of finished specialization sync chains
//   - sync_tier: the tier that ended the last chain for a trainer
//   - reload_count: number of bulk loads started, initial load included
//   - dropped_count: number of events dropped
//   - outcomes: the ordered list of event outcomes
//
// # Deterministic Testing
//
// Record timestamps come from testutil.DeterministicClock, sync chain IDs
// from testutil.SequenceGenerator, and every event is stamped with the
// reconciler's logical clock, so traces are identical across runs.
package harness
