package journal

import (
	"context"
	"fmt"

	"github.com/roach88/certsync/internal/model"
)

// Append records an accepted event. Uses ON CONFLICT(fingerprint) DO
// NOTHING: an event whose fingerprint is already journaled is ignored.
func (j *Journal) Append(ctx context.Context, seq int64, fingerprint, trainerKey string, ev model.Event) error {
	_, err := j.insert(ctx, seq, fingerprint, trainerKey, ev)
	return err
}

// insert adds a row and reports whether it was new.
func (j *Journal) insert(ctx context.Context, seq int64, fingerprint, trainerKey string, ev model.Event) (bool, error) {
	patchJSON, err := marshalPatch(ev.Patch)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	recordJSON, err := marshalRecord(ev.Record)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO events
		(fingerprint, seq, event_id, kind, cert_key, trainer_ref, trainer_key, status, patch, record, channel, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`,
		fingerprint,
		seq,
		ev.ID,
		string(ev.Kind),
		ev.CertKey,
		ev.TrainerRef,
		trainerKey,
		string(ev.Status),
		patchJSON,
		recordJSON,
		ev.Channel,
		formatTime(ev.ReceivedAt),
	)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append event: rows affected: %w", err)
	}
	return n > 0, nil
}
