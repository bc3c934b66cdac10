// Package store persists the whole pipeline state in a single SQLite
// database: content items, the transcription queue, source health,
// alerts and symbol confluence state. Engines consume it through their
// own narrow interfaces; this package just implements them all.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound marks lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements persistence on SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations. The fixed time
// format keeps stored timestamps text-comparable; every write in this
// package uses UTC for the same reason.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithDB wraps an existing handle without running migrations. Used
// by tests that inject a mock driver.
func NewWithDB(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
