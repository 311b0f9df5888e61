package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/certsync/internal/model"
)

// Entry is one journaled event.
type Entry struct {
	Seq         int64
	Fingerprint string

	// TrainerKey is the trainer key the event resolved to when accepted.
	TrainerKey string

	Event model.Event
}

// Entries returns every journaled event ordered by seq, then fingerprint.
//
// Returns an empty slice (not nil) if the journal is empty.
func (j *Journal) Entries(ctx context.Context) ([]Entry, error) {
	return j.query(ctx, `
		SELECT fingerprint, seq, event_id, kind, cert_key, trainer_ref, trainer_key,
		       status, patch, record, channel, received_at
		FROM events
		ORDER BY seq ASC, fingerprint COLLATE BINARY ASC
	`)
}

// History returns the journaled events for one certification in seq order.
func (j *Journal) History(ctx context.Context, certKey string) ([]Entry, error) {
	return j.query(ctx, `
		SELECT fingerprint, seq, event_id, kind, cert_key, trainer_ref, trainer_key,
		       status, patch, record, channel, received_at
		FROM events
		WHERE cert_key = ?
		ORDER BY seq ASC, fingerprint COLLATE BINARY ASC
	`, certKey)
}

// LastSeq returns the highest journaled seq, or 0 for an empty journal.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := j.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// Count returns the number of journaled events.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (j *Journal) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var kind, status, patchJSON, recJSON, received string
	err := rows.Scan(
		&e.Fingerprint,
		&e.Seq,
		&e.Event.ID,
		&kind,
		&e.Event.CertKey,
		&e.Event.TrainerRef,
		&e.TrainerKey,
		&status,
		&patchJSON,
		&recJSON,
		&e.Event.Channel,
		&received,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("scan event: %w", err)
	}

	e.Event.Kind = model.EventKind(kind)
	e.Event.Status = model.Status(status)
	if e.Event.Patch, err = unmarshalPatch(patchJSON); err != nil {
		return Entry{}, err
	}
	if e.Event.Record, err = unmarshalRecord(recJSON); err != nil {
		return Entry{}, err
	}
	if e.Event.ReceivedAt, err = parseTime(received); err != nil {
		return Entry{}, fmt.Errorf("parse received_at: %w", err)
	}
	return e, nil
}
