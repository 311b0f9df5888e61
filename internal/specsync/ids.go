package specsync

import "github.com/google/uuid"

// UUIDv7Generator generates time-sortable UUIDv7 chain IDs.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
