package model

import (
	"slices"
	"strings"
	"time"
)

// Status is the verification status of a certification.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusVerified Status = "VERIFIED"
	StatusRejected Status = "REJECTED"
)

// IsTerminal reports whether the status removes a record from the pending set.
func (s Status) IsTerminal() bool {
	return s == StatusVerified || s == StatusRejected
}

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusRejected:
		return true
	}
	return false
}

// ParseStatus maps a producer status string onto a Status.
// Matching is case-insensitive; APPROVED is accepted as an alias of VERIFIED
// and DECLINED as an alias of REJECTED. An empty string returns ("", true)
// so callers can apply their own default.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return "", true
	case "PENDING", "IN_REVIEW", "SUBMITTED":
		return StatusPending, true
	case "VERIFIED", "APPROVED":
		return StatusVerified, true
	case "REJECTED", "DECLINED":
		return StatusRejected, true
	}
	return "", false
}

// Trainer is a trainer record as served by the trainers endpoint.
//
// ID is the primary key used as the index everywhere. UserID is the
// secondary key (the trainer's account identifier) that some event
// producers send instead.
type Trainer struct {
	ID              string   `json:"id" validate:"required"`
	UserID          string   `json:"userId,omitempty"`
	Name            string   `json:"name,omitempty"`
	Status          string   `json:"status,omitempty"`
	Specializations []string `json:"specializations"`

	// HasSpecializations records whether the source payload carried a
	// specializations field at all, as opposed to carrying an empty one.
	HasSpecializations bool `json:"-"`
}

// Clone returns a deep copy of t.
func (t Trainer) Clone() Trainer {
	t.Specializations = slices.Clone(t.Specializations)
	return t
}

// CertificationRecord is a trainer certification awaiting or past verification.
type CertificationRecord struct {
	Key        string     `json:"id" validate:"required"`
	TrainerKey string     `json:"trainerId" validate:"required"`
	Category   string     `json:"category,omitempty"`
	Name       string     `json:"name,omitempty"`
	Issuer     string     `json:"issuer,omitempty"`
	Level      string     `json:"level,omitempty"`
	IssueDate  *time.Time `json:"issueDate,omitempty"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Patch carries the optional fields of an update event. Nil fields are
// left untouched when the patch is applied.
type Patch struct {
	Category   *string
	Name       *string
	Issuer     *string
	Level      *string
	IssueDate  *time.Time
	ExpiryDate *time.Time
	Status     *Status
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Category == nil && p.Name == nil && p.Issuer == nil && p.Level == nil &&
		p.IssueDate == nil && p.ExpiryDate == nil && p.Status == nil
}

// Apply returns a copy of rec with the patch fields applied and UpdatedAt
// set to now.
func (p Patch) Apply(rec CertificationRecord, now time.Time) CertificationRecord {
	if p.Category != nil {
		rec.Category = *p.Category
	}
	if p.Name != nil {
		rec.Name = *p.Name
	}
	if p.Issuer != nil {
		rec.Issuer = *p.Issuer
	}
	if p.Level != nil {
		rec.Level = *p.Level
	}
	if p.IssueDate != nil {
		d := *p.IssueDate
		rec.IssueDate = &d
	}
	if p.ExpiryDate != nil {
		d := *p.ExpiryDate
		rec.ExpiryDate = &d
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	rec.UpdatedAt = now
	return rec
}

// NormalizeSpecializations converts a specializations value of any accepted
// shape into a list of trimmed, non-empty strings.
//
// Accepted shapes: []string, []any of strings, a comma-separated string, or
// a string holding a JSON array. Duplicates keep their first position.
func NormalizeSpecializations(v any) []string {
	var raw []string
	switch val := v.(type) {
	case nil:
		return []string{}
	case []string:
		raw = val
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = splitSpecializations(val)
	default:
		return []string{}
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SameSpecializations reports whether a and b hold the same entries in the same order.
func SameSpecializations(a, b []string) bool {
	return slices.Equal(a, b)
}
