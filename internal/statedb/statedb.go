package statedb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// DefaultFileName is the database file inside the tabdeck directory.
const DefaultFileName = "state.db"

// ErrSessionEnded is returned by Session methods after End.
var ErrSessionEnded = errors.New("statedb: session ended")

// StateDB wraps a SQLite database for per-session thumbnail persistence.
// Thread-safe for concurrent use from multiple goroutines within one process.
// Multiple OS processes can safely read/write via WAL mode + busy timeout.
type StateDB struct {
	db  *sql.DB
	pid int
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	// busy_timeout and foreign_keys are per connection, so they ride on the
	// DSN and apply to every connection the pool opens.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: readers (the bridge's thumbnail endpoint) never block the capture writer
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	return &StateDB{db: db, pid: os.Getpid()}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist and runs any pending migrations.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id        TEXT PRIMARY KEY,
			pid       INTEGER NOT NULL,
			started   INTEGER NOT NULL,
			heartbeat INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create sessions: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS thumbnails (
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			tab_id     INTEGER NOT NULL,
			data       BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, tab_id)
		)
	`); err != nil {
		return fmt.Errorf("statedb: create thumbnails: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, strconv.Itoa(SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Sessions ---

// Session scopes persisted thumbnails to one panel lifetime. Rows written
// through a Session are deleted by End.
type Session struct {
	db *StateDB
	id string
}

// BeginSession registers a new session with a fresh id.
func (s *StateDB) BeginSession() (*Session, error) {
	id := uuid.NewString()
	now := time.Now().Unix()
	if _, err := s.db.Exec(
		"INSERT INTO sessions (id, pid, started, heartbeat) VALUES (?, ?, ?, ?)",
		id, s.pid, now, now,
	); err != nil {
		return nil, fmt.Errorf("statedb: begin session: %w", err)
	}
	return &Session{db: s, id: id}, nil
}

// SessionCount returns how many sessions are registered.
func (s *StateDB) SessionCount() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count)
	return count, err
}

// PurgeStale deletes sessions (and their thumbnails) whose heartbeat is
// older than timeout. These are left behind by processes that crashed
// before End. Returns the number of sessions removed.
func (s *StateDB) PurgeStale(timeout time.Duration) (int, error) {
	cutoff := time.Now().Add(-timeout).Unix()
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("statedb: begin purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		DELETE FROM thumbnails WHERE session_id IN (
			SELECT id FROM sessions WHERE heartbeat < ?
		)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("statedb: purge thumbnails: %w", err)
	}
	res, err := tx.Exec("DELETE FROM sessions WHERE heartbeat < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("statedb: purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("statedb: commit purge: %w", err)
	}
	return int(n), nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Heartbeat marks the session alive so PurgeStale leaves it alone.
func (s *Session) Heartbeat() error {
	res, err := s.db.db.Exec(
		"UPDATE sessions SET heartbeat = ? WHERE id = ?",
		time.Now().Unix(), s.id,
	)
	if err != nil {
		return fmt.Errorf("statedb: heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionEnded
	}
	return nil
}

// Put stores (or replaces) the thumbnail of a tab.
func (s *Session) Put(tabID int64, data []byte) error {
	_, err := s.db.db.Exec(`
		INSERT OR REPLACE INTO thumbnails (session_id, tab_id, data, updated_at)
		VALUES (?, ?, ?, ?)
	`, s.id, tabID, data, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("statedb: put thumbnail %d: %w", tabID, err)
	}
	return nil
}

// Get returns the stored thumbnail of a tab. ok is false when none exists.
func (s *Session) Get(tabID int64) (data []byte, ok bool, err error) {
	err = s.db.db.QueryRow(
		"SELECT data FROM thumbnails WHERE session_id = ? AND tab_id = ?",
		s.id, tabID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("statedb: get thumbnail %d: %w", tabID, err)
	}
	return data, true, nil
}

// Delete drops the stored thumbnail of a tab.
func (s *Session) Delete(tabID int64) error {
	_, err := s.db.db.Exec(
		"DELETE FROM thumbnails WHERE session_id = ? AND tab_id = ?",
		s.id, tabID,
	)
	return err
}

// TabIDs lists tabs with a stored thumbnail, ascending.
func (s *Session) TabIDs() ([]int64, error) {
	rows, err := s.db.db.Query(
		"SELECT tab_id FROM thumbnails WHERE session_id = ? ORDER BY tab_id",
		s.id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// End deletes the session and every thumbnail written through it.
func (s *Session) End() error {
	tx, err := s.db.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin end session: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM thumbnails WHERE session_id = ?", s.id); err != nil {
		return fmt.Errorf("statedb: delete thumbnails: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sessions WHERE id = ?", s.id); err != nil {
		return fmt.Errorf("statedb: delete session: %w", err)
	}
	return tx.Commit()
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
