// Package journal provides SQLite-backed durable storage for accepted
// certification events.
//
// Every event the reconciler accepts is appended with its fingerprint as
// the primary key, so a duplicate delivered on another channel, or keyed by
// the trainer's secondary identifier, is written once. Rows are read back
// in seq order for offline replay.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package journal
