package store

import (
	"context"
	"time"
)

// Snapshot is the locally persisted slice of session state, saved after
// every local mutation and restored when the session reopens. Shared state
// itself is never persisted; this is per-client convenience only.
type Snapshot struct {
	SessionName string
	BPM         int
	Grid        []bool
	UpdatedAt   time.Time
}

// SessionStore persists autosave snapshots keyed by room.
type SessionStore interface {
	// Save upserts the snapshot for roomKey.
	Save(ctx context.Context, roomKey string, snap Snapshot) error

	// Load returns the snapshot for roomKey, or nil if none was saved.
	Load(ctx context.Context, roomKey string) (*Snapshot, error)

	// Close releases the underlying storage.
	Close() error
}
