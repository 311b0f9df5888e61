// Package loader performs the full fetch of trainers and pending
// certifications used at startup and as the last-resort reconciliation.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/certsync/internal/identity"
	"github.com/roach88/certsync/internal/model"
	"github.com/roach88/certsync/internal/pending"
)

// Source is the read side of the backend used by a bulk load.
type Source interface {
	FetchTrainers(ctx context.Context) ([]model.Trainer, error)
	FetchPendingCertifications(ctx context.Context) ([]model.CertificationRecord, error)
}

// Result is the outcome of a successful load. It replaces the trainer list
// and the pending index as one unit.
type Result struct {
	Trainers []model.Trainer
	Pending  pending.Index

	// Unassigned counts pending records whose trainer identifier matched no
	// loaded trainer. They are kept under the raw identifier.
	Unassigned int

	LoadedAt time.Time
}

// Loader fetches and groups a full snapshot.
type Loader struct {
	source Source
	now    func() time.Time
}

// Option configures a Loader.
type Option func(*Loader)

// WithNow overrides the time source used to stamp results.
func WithNow(now func() time.Time) Option {
	return func(l *Loader) {
		l.now = now
	}
}

// New creates a Loader reading from source.
func New(source Source, opts ...Option) *Loader {
	l := &Loader{source: source, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadAll fetches trainers and pending certifications concurrently and
// returns them grouped by trainer primary key. Either fetch failing fails
// the whole load; no partial result is returned.
func (l *Loader) LoadAll(ctx context.Context) (Result, error) {
	var (
		trainers []model.Trainer
		records  []model.CertificationRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		trainers, err = l.source.FetchTrainers(gctx)
		if err != nil {
			return fmt.Errorf("fetch trainers: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		records, err = l.source.FetchPendingCertifications(gctx)
		if err != nil {
			return fmt.Errorf("fetch pending certifications: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("load all: %w", err)
	}

	res := Build(trainers, records)
	res.LoadedAt = l.now()

	slog.Info("bulk load complete",
		"trainers", len(res.Trainers),
		"pending", res.Pending.Len(),
		"unassigned", res.Unassigned,
	)
	return res, nil
}

// Build normalizes trainers and groups records by the primary key of
// their trainer. Records referencing a secondary key are filed under the
// matching primary key.
func Build(trainers []model.Trainer, records []model.CertificationRecord) Result {
	out := make([]model.Trainer, 0, len(trainers))
	seen := make(map[string]struct{}, len(trainers))
	for _, t := range trainers {
		if t.ID == "" {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		t = t.Clone()
		t.Specializations = model.NormalizeSpecializations(t.Specializations)
		out = append(out, t)
	}

	idx := identity.NewIndex(out)
	unassigned := 0
	normalized := make([]model.CertificationRecord, 0, len(records))
	for _, rec := range records {
		res := idx.Resolve(rec.TrainerKey)
		if !res.Resolved && res.Key != "" {
			unassigned++
		}
		rec.TrainerKey = res.Key
		if rec.Status == "" {
			rec.Status = model.StatusPending
		}
		normalized = append(normalized, rec)
	}

	return Result{
		Trainers:   out,
		Pending:    pending.GroupByTrainer(normalized),
		Unassigned: unassigned,
	}
}
