package ledger

import (
	"context"
	"errors"
	"time"
)

// Record is one anchored final hash.
type Record struct {
	ID         string    `json:"id"`
	Hash       string    `json:"hash"`
	AnchoredAt time.Time `json:"anchored_at"`
}

var (
	// ErrExists is returned by Store.Insert when the id is already taken.
	ErrExists = errors.New("ledger: id already anchored")

	// ErrConflict means a different hash was offered under an id that is
	// already anchored. Anchors are immutable.
	ErrConflict = errors.New("ledger: id already anchored with a different hash")

	// ErrWrite wraps any failure to persist an anchor.
	ErrWrite = errors.New("ledger: write failed")

	// ErrCorrupt marks a backing store that could not be decoded and was
	// reset to empty.
	ErrCorrupt = errors.New("ledger: store corrupt")
)

// Store is the plug-in point.
// Flat file by default; SQLite or Postgres for shared deployments; the
// anchor service doesn't change.
type Store interface {
	// Get returns nil, nil when id is not anchored.
	Get(ctx context.Context, id string) (*Record, error)
	// Insert adds r, or returns ErrExists without touching the stored value.
	Insert(ctx context.Context, r Record) error
	Len(ctx context.Context) (int, error)
}
