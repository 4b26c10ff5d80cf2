// Package history keeps a durable audit log of applied change-sets so an
// operator can see what the assistant did to itself and which snapshot to
// roll back to.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"selfforge/internal/logging"
)

// Entry is one applied (or attempted) change-set.
type Entry struct {
	ID           string
	RequestID    string
	Description  string
	Succeeded    int
	Failed       int
	NeedsRestart bool
	SnapshotKey  string
	CreatedAt    time.Time
}

// Store is the sqlite-backed audit log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	logging.History("history store opened at %s", path)
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS change_sets (
	id            TEXT PRIMARY KEY,
	request_id    TEXT NOT NULL,
	description   TEXT NOT NULL,
	succeeded     INTEGER NOT NULL,
	failed        INTEGER NOT NULL,
	needs_restart INTEGER NOT NULL,
	snapshot_key  TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_change_sets_created ON change_sets(created_at);
`

// Record appends an entry. A zero ID or CreatedAt is filled in.
func (s *Store) Record(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO change_sets (id, request_id, description, succeeded, failed, needs_restart, snapshot_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, e.Description, e.Succeeded, e.Failed, boolToInt(e.NeedsRestart), e.SnapshotKey, e.CreatedAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("record change-set: %w", err)
	}

	logging.History("recorded change-set %s (%d applied, %d failed)", e.ID, e.Succeeded, e.Failed)
	return e, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT id, request_id, description, succeeded, failed, needs_restart, snapshot_key, created_at
		 FROM change_sets ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var needsRestart int
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Description, &e.Succeeded, &e.Failed, &needsRestart, &e.SnapshotKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.NeedsRestart = needsRestart != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
