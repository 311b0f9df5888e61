// Package specsync refreshes a trainer's derived specializations after one
// of its certifications reaches VERIFIED.
//
// Each sync runs a chain of up to three tiers:
//
//  1. Ask the backend to recompute the trainer's specializations and apply
//     the returned list as the source of truth.
//  2. After FallbackDelay, fetch the trainer directly and apply its list if
//     it differs from the local one.
//  3. After ReloadDelay, request a full bulk reload.
//
// A tier runs only when the previous one failed; success at any tier ends
// the chain. Chains for different trainers run independently. A sync
// requested for a trainer whose chain is still in flight marks that chain
// for one re-run instead of starting a second chain.
//
// Coordinator state is owned by the reconciler loop: Sync, Stop and every
// callback delivered through Host.Post run on that goroutine. Network calls
// run on their own goroutines and post their results back. Timers and late
// results check the coordinator context before touching state, so nothing
// is applied after Stop.
package specsync
