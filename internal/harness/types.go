package harness

import "github.com/roach88/certsync/internal/reconciler"

// Trace event types.
const (
	TraceEventType   = "event"
	TraceSyncType    = "sync"
	TraceRefreshType = "refresh"
)

// TraceEvent is one line of a scenario trace: a processed event, a
// finished specialization sync chain, or a refresh step.
type TraceEvent struct {
	Type string `json:"type"`
	Step int    `json:"step"`

	// Event fields.
	Seq        int64  `json:"seq,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Cert       string `json:"cert,omitempty"`
	TrainerRef string `json:"trainer_ref,omitempty"`
	Trainer    string `json:"trainer,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Count      int    `json:"count"`
	Replay     bool   `json:"replay,omitempty"`
	Synced     bool   `json:"synced,omitempty"`

	// Sync fields.
	Chain   string `json:"chain,omitempty"`
	Tier    string `json:"tier,omitempty"`
	Success bool   `json:"success,omitempty"`
	Changed bool   `json:"changed,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace contains processed events and sync chains in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Snapshot is the reconciler state after the last step.
	Snapshot *reconciler.Snapshot `json:"-"`

	// Stats are the reconciler counters after the last step.
	Stats reconciler.Stats `json:"stats"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Syncs returns the sync entries of the trace.
func (r *Result) Syncs() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == TraceSyncType {
			out = append(out, e)
		}
	}
	return out
}

// Outcomes returns the outcome of every event entry, in order.
func (r *Result) Outcomes() []string {
	out := []string{}
	for _, e := range r.Trace {
		if e.Type == TraceEventType {
			out = append(out, e.Outcome)
		}
	}
	return out
}
