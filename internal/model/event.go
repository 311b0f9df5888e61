package model

import (
	"strings"
	"time"
)

// EventKind identifies one of the three certification notifications.
type EventKind string

const (
	KindCreated EventKind = "certification.created"
	KindUpdated EventKind = "certification.updated"
	KindDeleted EventKind = "certification.deleted"
)

// ParseKind maps a producer event name onto an EventKind.
// Accepts the full dotted name, the bare verb, and the CREATE/UPDATE/DELETE
// action names used by live-query style feeds.
func ParseKind(raw string) (EventKind, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "certification.")
	s = strings.TrimPrefix(s, "certification_")
	switch s {
	case "created", "create", "insert":
		return KindCreated, true
	case "updated", "update", "patch":
		return KindUpdated, true
	case "deleted", "delete", "remove", "removed":
		return KindDeleted, true
	}
	return "", false
}

// Event is a canonical certification notification.
//
// TrainerRef holds the raw trainer identifier as the producer sent it; it may
// be a primary key, a secondary key, or empty for updated/deleted events.
// Status is empty when the payload carried none.
type Event struct {
	ID         string
	Kind       EventKind
	TrainerRef string
	CertKey    string
	Status     Status
	Patch      Patch

	// Record is the best-available full record built from the payload, used
	// when the event introduces a certification the reconciler has not seen.
	Record CertificationRecord

	Channel    string
	ReceivedAt time.Time
}

// EffectiveStatus returns the status the event carries, defaulting a
// created event without status to PENDING.
func (e Event) EffectiveStatus() Status {
	if e.Status == "" && e.Kind == KindCreated {
		return StatusPending
	}
	return e.Status
}
