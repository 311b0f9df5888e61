package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedPayload is returned when a payload cannot be mapped onto a
// canonical value. Errors returned by the Parse functions wrap it.
var ErrMalformedPayload = errors.New("malformed payload")

// Field aliases observed across producers.
var (
	envelopeKeys      = []string{"certification", "data", "record", "payload"}
	certKeyKeys       = []string{"certificationId", "certification_id", "certId", "cert_id", "id", "_id"}
	trainerRefKeys    = []string{"trainerId", "trainer_id", "trainerUserId", "trainer_user_id", "userId", "user_id"}
	statusKeys        = []string{"status", "verificationStatus", "verification_status"}
	categoryKeys      = []string{"category", "certificationType", "certification_type"}
	nameKeys          = []string{"name", "title", "certificationName", "certification_name"}
	issuerKeys        = []string{"issuer", "issuingOrganization", "issuing_organization", "issuedBy"}
	levelKeys         = []string{"level", "grade"}
	issueDateKeys     = []string{"issueDate", "issue_date", "issuedAt", "issued_at"}
	expiryDateKeys    = []string{"expiryDate", "expiry_date", "expirationDate", "expiration_date", "expiresAt"}
	createdAtKeys     = []string{"createdAt", "created_at"}
	updatedAtKeys     = []string{"updatedAt", "updated_at"}
	eventIDKeys       = []string{"eventId", "event_id"}
	trainerIDKeys     = []string{"id", "_id", "trainerId", "trainer_id"}
	trainerUserKeys   = []string{"userId", "user_id", "accountId", "account_id"}
	trainerNameKeys   = []string{"name", "fullName", "full_name", "displayName", "display_name"}
	specializationKey = []string{"specializations", "specialisations", "specialties", "specialities"}
)

// DecodeObject decodes a JSON object into a generic map.
func DecodeObject(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}
	return m, nil
}

// ParseEvent maps a raw event payload of any accepted shape onto an Event.
//
// created events require a certification key and a trainer identifier and
// default a missing status to PENDING. updated and deleted events require
// only a certification key; the trainer can be located from earlier state.
func ParseEvent(kind EventKind, payload map[string]any) (Event, error) {
	if payload == nil {
		return Event{}, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	body := unwrap(payload)
	lookup := func(keys ...string) string {
		if v := getString(body, keys...); v != "" {
			return v
		}
		return getString(payload, keys...)
	}

	ev := Event{
		ID:         getString(payload, eventIDKeys...),
		Kind:       kind,
		CertKey:    lookup(certKeyKeys...),
		TrainerRef: trainerRef(body),
	}
	if ev.TrainerRef == "" {
		ev.TrainerRef = trainerRef(payload)
	}
	if ev.CertKey == "" {
		return Event{}, fmt.Errorf("%w: %s without certification key", ErrMalformedPayload, kind)
	}

	rawStatus := lookup(statusKeys...)
	status, ok := ParseStatus(rawStatus)
	if !ok {
		return Event{}, fmt.Errorf("%w: unknown status %q", ErrMalformedPayload, rawStatus)
	}
	ev.Status = status

	switch kind {
	case KindCreated:
		if ev.TrainerRef == "" {
			return Event{}, fmt.Errorf("%w: created event for %s without trainer identifier", ErrMalformedPayload, ev.CertKey)
		}
	case KindUpdated, KindDeleted:
	default:
		return Event{}, fmt.Errorf("%w: unknown event kind %q", ErrMalformedPayload, kind)
	}

	ev.Patch = patchFrom(body)
	ev.Record = CertificationRecord{
		Key:        ev.CertKey,
		TrainerKey: ev.TrainerRef,
		Category:   getString(body, categoryKeys...),
		Name:       getString(body, nameKeys...),
		Issuer:     getString(body, issuerKeys...),
		Level:      getString(body, levelKeys...),
		IssueDate:  getTime(body, issueDateKeys...),
		ExpiryDate: getTime(body, expiryDateKeys...),
		Status:     ev.EffectiveStatus(),
	}
	if t := getTime(body, createdAtKeys...); t != nil {
		ev.Record.CreatedAt = *t
	}
	if t := getTime(body, updatedAtKeys...); t != nil {
		ev.Record.UpdatedAt = *t
	}
	if ev.Record.Status == "" {
		ev.Record.Status = StatusPending
	}
	return ev, nil
}

// ParseTrainer maps a raw trainer payload onto a Trainer.
func ParseTrainer(payload map[string]any) (Trainer, error) {
	body := unwrap(payload)
	t := Trainer{
		ID:     getString(body, trainerIDKeys...),
		UserID: getString(body, trainerUserKeys...),
		Name:   getString(body, trainerNameKeys...),
		Status: getString(body, "status"),
	}
	if t.ID == "" {
		return Trainer{}, fmt.Errorf("%w: trainer without id", ErrMalformedPayload)
	}
	if t.Name == "" {
		t.Name = strings.TrimSpace(getString(body, "firstName", "first_name") + " " + getString(body, "lastName", "last_name"))
	}
	if raw, ok := firstPresent(body, specializationKey...); ok {
		t.Specializations = NormalizeSpecializations(raw)
		t.HasSpecializations = true
	} else {
		t.Specializations = []string{}
	}
	return t, nil
}

// ParseCertification maps a raw certification payload onto a record.
// A missing status is treated as PENDING.
func ParseCertification(payload map[string]any) (CertificationRecord, error) {
	ev, err := ParseEvent(KindCreated, payload)
	if err != nil {
		return CertificationRecord{}, err
	}
	return ev.Record, nil
}

func unwrap(m map[string]any) map[string]any {
	for _, k := range envelopeKeys {
		if inner, ok := m[k].(map[string]any); ok {
			return inner
		}
	}
	return m
}

// trainerRef extracts the trainer identifier, including the nested
// {"trainer": {"id": ...}} and {"trainer": "..."} shapes.
func trainerRef(m map[string]any) string {
	if v := getString(m, trainerRefKeys...); v != "" {
		return v
	}
	switch t := m["trainer"].(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return formatNumber(t)
	case map[string]any:
		return getString(t, "id", "_id", "userId", "user_id")
	}
	return ""
}

func patchFrom(m map[string]any) Patch {
	var p Patch
	if v, ok := presentString(m, categoryKeys...); ok {
		p.Category = &v
	}
	if v, ok := presentString(m, nameKeys...); ok {
		p.Name = &v
	}
	if v, ok := presentString(m, issuerKeys...); ok {
		p.Issuer = &v
	}
	if v, ok := presentString(m, levelKeys...); ok {
		p.Level = &v
	}
	p.IssueDate = getTime(m, issueDateKeys...)
	p.ExpiryDate = getTime(m, expiryDateKeys...)
	if raw, ok := presentString(m, statusKeys...); ok {
		if s, valid := ParseStatus(raw); valid && s != "" {
			p.Status = &s
		}
	}
	return p
}

func firstPresent(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func presentString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return stringOf(v), true
		}
	}
	return "", false
}

func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			if s := strings.TrimSpace(stringOf(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return formatNumber(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func getTime(m map[string]any, keys ...string) *time.Time {
	s := getString(m, keys...)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func splitSpecializations(s string) []string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			return arr
		}
	}
	return strings.Split(s, ",")
}
