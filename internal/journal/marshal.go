package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/certsync/internal/model"
)

// patchRow is the stored shape of model.Patch.
type patchRow struct {
	Category   *string       `json:"category,omitempty"`
	Name       *string       `json:"name,omitempty"`
	Issuer     *string       `json:"issuer,omitempty"`
	Level      *string       `json:"level,omitempty"`
	IssueDate  *time.Time    `json:"issueDate,omitempty"`
	ExpiryDate *time.Time    `json:"expiryDate,omitempty"`
	Status     *model.Status `json:"status,omitempty"`
}

func marshalPatch(p model.Patch) (string, error) {
	return encode(patchRow(p))
}

func unmarshalPatch(data string) (model.Patch, error) {
	var row patchRow
	if data == "" || data == "{}" {
		return model.Patch{}, nil
	}
	if err := json.Unmarshal([]byte(data), &row); err != nil {
		return model.Patch{}, fmt.Errorf("unmarshal patch: %w", err)
	}
	return model.Patch(row), nil
}

func marshalRecord(rec model.CertificationRecord) (string, error) {
	return encode(rec)
}

func unmarshalRecord(data string) (model.CertificationRecord, error) {
	var rec model.CertificationRecord
	if data == "" || data == "{}" {
		return rec, nil
	}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return model.CertificationRecord{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

// encode writes v as compact JSON without HTML escaping.
func encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline.
	return strings.TrimSpace(buf.String()), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
