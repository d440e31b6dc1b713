// Package store is the internal task store: an embedded SQLite database that
// holds the task records, the sync settings document, and the pass lease.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	ErrNotFound  = errors.New("task not found")
	ErrStale     = errors.New("task changed since it was read")
	ErrLeaseHeld = errors.New("sync lease held by another pass")
	ErrLeaseLost = errors.New("sync lease lost")
)

// Store wraps the SQLite connection pool.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger

	// Now is the clock used for user edits and leases.
	Now func() time.Time
}

// Open opens (creating if needed) the database at path and initializes the
// schema. The caller must Close it.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them; write
	// transactions take the lock up front so concurrent writers wait on the
	// busy timeout instead of failing on upgrade.
	q := url.Values{}
	q.Add("_txlock", "immediate")
	q.Add("_pragma", "busy_timeout(10000)")
	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", "foreign_keys(on)")
	conn, err := sql.Open("sqlite3", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, logger: logger, Now: time.Now}
	if err := s.initSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		external_ref TEXT,
		title TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL,
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		estimated_hours REAL NOT NULL DEFAULT 0,
		recurrence TEXT,              -- JSON
		planned_date TEXT,            -- YYYY-MM-DD
		target_date TEXT,
		hard_deadline TEXT,
		times_rescheduled INTEGER NOT NULL DEFAULT 0,
		sync_status TEXT NOT NULL,
		last_synced_at TEXT,
		source_modified_at TEXT,
		source TEXT NOT NULL,
		source_message_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One task per sheet row.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_external_ref
		ON tasks(external_ref) WHERE external_ref IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_tasks_sync_status ON tasks(sync_status);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	CREATE TABLE IF NOT EXISTS sync_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		enabled INTEGER NOT NULL DEFAULT 0,
		interval_minutes INTEGER NOT NULL DEFAULT 30,
		last_sync_at TEXT,
		last_result TEXT,             -- JSON SyncResult
		lease_token TEXT,
		lease_owner TEXT,
		lease_expires_at INTEGER      -- unix millis
	);
	INSERT OR IGNORE INTO sync_settings (id) VALUES (1);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// timeLayout keeps every stored timestamp the same width so they compare
// correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, ns.String)
}

const dateLayout = "2006-01-02"

func formatDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateLayout), Valid: true}
}

func parseDate(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, ns.String)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
