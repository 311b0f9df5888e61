package reconciler

import "github.com/roach88/certsync/internal/model"

// Outcome is what processing an event did to the pending store.
type Outcome string

const (
	OutcomeAdded      Outcome = "added"
	OutcomeUpdated    Outcome = "updated"
	OutcomeRemoved    Outcome = "removed"
	OutcomeTombstoned Outcome = "tombstoned"
	OutcomeNoop       Outcome = "noop"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeDropped    Outcome = "dropped"
)

// TraceEntry records the processing of one event.
type TraceEntry struct {
	Seq        int64
	Kind       model.EventKind
	CertKey    string
	TrainerRef string
	TrainerKey string
	Channel    string
	Outcome    Outcome

	// Reason is the error code for dropped events.
	Reason string

	// Parked is set when the event was filed under an unresolved
	// identifier while trainers were still loading.
	Parked bool

	// Synced is set when the event started or re-armed a specialization sync.
	Synced bool

	// Replay is set for events re-applied after a bulk load.
	Replay bool

	// Count is the trainer's pending count after the event.
	Count int
}
