package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/liveloop/loopjam/internal/store"
)

// SessionStore implements store.SessionStore on SQLite.
type SessionStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS session_snapshots (
	room_key     TEXT PRIMARY KEY,
	session_name TEXT NOT NULL,
	bpm          INTEGER NOT NULL,
	grid         TEXT NOT NULL,
	updated_at   DATETIME NOT NULL
);
`

// New opens (and if needed initializes) the autosave database at dbPath.
func New(dbPath string) (*SessionStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SessionStore{db: db}, nil
}

// Save upserts the snapshot for roomKey.
func (s *SessionStore) Save(ctx context.Context, roomKey string, snap store.Snapshot) error {
	grid, err := json.Marshal(snap.Grid)
	if err != nil {
		return fmt.Errorf("marshal grid: %w", err)
	}

	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_snapshots (room_key, session_name, bpm, grid, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room_key) DO UPDATE SET
			session_name = excluded.session_name,
			bpm          = excluded.bpm,
			grid         = excluded.grid,
			updated_at   = excluded.updated_at
	`, roomKey, snap.SessionName, snap.BPM, string(grid), updatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot for roomKey, or nil if none was saved.
func (s *SessionStore) Load(ctx context.Context, roomKey string) (*store.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_name, bpm, grid, updated_at
		FROM session_snapshots
		WHERE room_key = ?
	`, roomKey)

	var snap store.Snapshot
	var grid string
	if err := row.Scan(&snap.SessionName, &snap.BPM, &grid, &snap.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(grid), &snap.Grid); err != nil {
		return nil, fmt.Errorf("unmarshal grid: %w", err)
	}
	return &snap, nil
}

// Close releases the database handle.
func (s *SessionStore) Close() error {
	return s.db.Close()
}
