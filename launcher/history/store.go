// Package history keeps a record of backend sessions in a small sqlite
// database so past start failures and crashes can be inspected later.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Session is one row of the session history.
type Session struct {
	ID         string         `db:"id"`
	Port       int            `db:"port"`
	PID        int            `db:"pid"`
	StartedAt  int64          `db:"started_at"`
	EndedAt    sql.NullInt64  `db:"ended_at"` // NULL while the session is live
	FinalState string         `db:"final_state"`
	Error      sql.NullString `db:"error"`
}

// Started returns StartedAt as a time.
func (s Session) Started() time.Time {
	return time.Unix(s.StartedAt, 0)
}

// Duration returns how long the session ran, or zero while it is live.
func (s Session) Duration() time.Duration {
	if !s.EndedAt.Valid {
		return 0
	}
	return time.Duration(s.EndedAt.Int64-s.StartedAt) * time.Second
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS launcher_sessions (
	id TEXT PRIMARY KEY,
	port INTEGER NOT NULL,
	pid INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at INTEGER,
	final_state TEXT NOT NULL,
	error TEXT
)
`

const insertSessionSql = `
INSERT INTO launcher_sessions (id, port, pid, started_at, final_state)
VALUES ($1, $2, $3, $4, $5)
`

// A session can end before it was ever recorded as started, for example when
// no port was free, so ending is an upsert.
const endSessionSql = `
INSERT INTO launcher_sessions (id, port, pid, started_at, ended_at, final_state, error)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT(id) DO UPDATE SET
	ended_at = excluded.ended_at,
	final_state = excluded.final_state,
	error = excluded.error
`

const recentSessionsSql = `
SELECT * FROM launcher_sessions ORDER BY started_at DESC, rowid DESC LIMIT $1
`

// DBInit creates the session table and its index.
func DBInit(db *sqlx.DB) error {
	if _, err := db.Exec(sessionSchema); err != nil {
		return err
	}
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_launcher_sessions_started_at ON launcher_sessions(started_at)`)
	return err
}

// Store reads and writes session history.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore wraps an open database, creating the schema if needed.
func NewStore(db *sqlx.DB, logger *slog.Logger) (*Store, error) {
	if err := DBInit(db); err != nil {
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "HistoryStore")}, nil
}

// Open opens (or creates) the sqlite database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", path, err)
	}
	store, err := NewStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordStart inserts a live session.
func (s *Store) RecordStart(id string, port, pid int, startedAt time.Time, state string) error {
	_, err := s.db.Exec(insertSessionSql, id, port, pid, startedAt.UTC().Unix(), state)
	if err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	s.logger.Debug("Recorded session start", "session", id, "port", port, "pid", pid)
	return nil
}

// RecordEnd marks a session finished with its final state and error, if any.
func (s *Store) RecordEnd(id string, port, pid int, startedAt, endedAt time.Time, state string, sessionErr error) error {
	var errText sql.NullString
	if sessionErr != nil {
		errText = sql.NullString{String: sessionErr.Error(), Valid: true}
	}
	_, err := s.db.Exec(endSessionSql, id, port, pid, startedAt.UTC().Unix(), endedAt.UTC().Unix(), state, errText)
	if err != nil {
		return fmt.Errorf("failed to record session end: %w", err)
	}
	s.logger.Debug("Recorded session end", "session", id, "state", state)
	return nil
}

// Get returns one session by ID.
func (s *Store) Get(id string) (*Session, error) {
	var session Session
	err := s.db.Get(&session, "SELECT * FROM launcher_sessions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	var sessions []Session
	if err := s.db.Select(&sessions, recentSessionsSql, limit); err != nil {
		return nil, err
	}
	return sessions, nil
}

// DeleteOlderThan removes sessions started before the cutoff.
func (s *Store) DeleteOlderThan(olderThan time.Duration) (int64, error) {
	threshold := time.Now().UTC().Add(-olderThan).Unix()
	result, err := s.db.Exec("DELETE FROM launcher_sessions WHERE started_at < $1", threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
