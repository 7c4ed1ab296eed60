package domain

import "github.com/google/uuid"

// IDGenerator issues session ids.
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator issues time-sortable UUIDv7 ids. Stateless and safe for
// concurrent use.
type UUIDv7Generator struct{}

// NewID returns a hyphenated UUIDv7. Panics only if the system entropy
// source fails.
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
