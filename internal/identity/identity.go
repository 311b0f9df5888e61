// Package identity maps the trainer identifiers carried by certification
// events onto the primary key used to index every other structure.
//
// Producers send either a trainer's primary key or its secondary key (the
// account identifier). Resolve is a pure function over the current trainer
// list; it never mutates state and never performs I/O.
package identity

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/certsync/internal/model"
)

// Result is the outcome of resolving a raw identifier.
type Result struct {
	// Key is the primary key, or the raw identifier when unresolved.
	Key string

	// Resolved reports whether Key matched a loaded trainer.
	Resolved bool

	// ViaAlias reports that the raw identifier was a secondary key.
	ViaAlias bool
}

// Resolve returns the primary key for raw.
//
// A direct primary key match wins over a secondary key match, so a trainer
// whose account identifier happens to equal another trainer's primary key
// never captures that trainer's events. Comparison is NFC-normalized and
// ignores surrounding whitespace. An unmatched identifier comes back
// unchanged with Resolved false.
func Resolve(raw string, trainers []model.Trainer) Result {
	key := Canonical(raw)
	if key == "" {
		return Result{}
	}
	for _, t := range trainers {
		if Canonical(t.ID) == key {
			return Result{Key: t.ID, Resolved: true}
		}
	}
	for _, t := range trainers {
		if t.UserID != "" && Canonical(t.UserID) == key {
			return Result{Key: t.ID, Resolved: true, ViaAlias: true}
		}
	}
	return Result{Key: key}
}

// Canonical trims and NFC-normalizes an identifier.
func Canonical(raw string) string {
	return norm.NFC.String(strings.TrimSpace(raw))
}

// Aliases returns the secondary keys under which entries for primaryKey may
// have been stored before normalization could resolve them.
func Aliases(primaryKey string, trainers []model.Trainer) []string {
	for _, t := range trainers {
		if t.ID == primaryKey && t.UserID != "" && t.UserID != t.ID {
			return []string{t.UserID}
		}
	}
	return nil
}

// Index is a prebuilt lookup table for repeated resolution against the same
// trainer list. It resolves exactly like Resolve.
type Index struct {
	primary   map[string]string
	secondary map[string]string
}

// NewIndex builds an Index over trainers.
func NewIndex(trainers []model.Trainer) *Index {
	idx := &Index{
		primary:   make(map[string]string, len(trainers)),
		secondary: make(map[string]string, len(trainers)),
	}
	for _, t := range trainers {
		idx.primary[Canonical(t.ID)] = t.ID
	}
	for _, t := range trainers {
		if t.UserID == "" {
			continue
		}
		k := Canonical(t.UserID)
		if _, taken := idx.secondary[k]; !taken {
			idx.secondary[k] = t.ID
		}
	}
	return idx
}

// Resolve returns the primary key for raw.
func (i *Index) Resolve(raw string) Result {
	key := Canonical(raw)
	if key == "" {
		return Result{}
	}
	if id, ok := i.primary[key]; ok {
		return Result{Key: id, Resolved: true}
	}
	if id, ok := i.secondary[key]; ok {
		return Result{Key: id, Resolved: true, ViaAlias: true}
	}
	return Result{Key: key}
}

// Known reports whether key is the primary key of a loaded trainer.
func (i *Index) Known(key string) bool {
	_, ok := i.primary[Canonical(key)]
	return ok
}

// Len returns the number of trainers indexed.
func (i *Index) Len() int {
	return len(i.primary)
}
