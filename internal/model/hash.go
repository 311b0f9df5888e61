package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DomainEvent prefixes event fingerprints. The version suffix allows the
// fingerprint algorithm to change without colliding with old journal rows.
const DomainEvent = "certsync/event/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes the content-addressed identity of an event after its
// trainer identifier has been resolved to trainerKey.
//
// The channel, producer event ID and receive time are excluded: the same
// logical notification delivered on two channels, or keyed once by the
// primary and once by the secondary key, yields the same fingerprint. The
// producer's updatedAt is included when present, so two updates with the
// same content made at different times stay distinct.
//
// epoch counts how many times a bulk load has reinstated the certification
// as pending after it was resolved. It is omitted while zero.
func Fingerprint(ev Event, trainerKey string, epoch int) (string, error) {
	obj := map[string]any{
		"kind":        string(ev.Kind),
		"cert_key":    ev.CertKey,
		"status":      string(ev.EffectiveStatus()),
		"trainer_key": trainerKey,
		"patch":       patchObject(ev.Patch),
	}
	if !ev.Record.UpdatedAt.IsZero() {
		obj["updated_at"] = ev.Record.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	if epoch > 0 {
		obj["epoch"] = epoch
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

func patchObject(p Patch) map[string]any {
	obj := map[string]any{}
	if p.Category != nil {
		obj["category"] = *p.Category
	}
	if p.Name != nil {
		obj["name"] = *p.Name
	}
	if p.Issuer != nil {
		obj["issuer"] = *p.Issuer
	}
	if p.Level != nil {
		obj["level"] = *p.Level
	}
	if p.IssueDate != nil {
		obj["issue_date"] = p.IssueDate.UTC().Format(time.RFC3339)
	}
	if p.ExpiryDate != nil {
		obj["expiry_date"] = p.ExpiryDate.UTC().Format(time.RFC3339)
	}
	if p.Status != nil {
		obj["status"] = string(*p.Status)
	}
	return obj
}
