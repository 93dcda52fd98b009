// Package db handles database operations for Keel
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// Store manages database operations. It is the single point of truth shared
// by the scheduler jobs; all cross-job communication goes through it.
type Store struct {
	DB *sql.DB
}

// Open opens (and if necessary creates) a SQLite database at the given path
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Set busy timeout to handle lock contention gracefully
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{DB: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS goals (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	level       TEXT NOT NULL CHECK (level IN ('high', 'project')),
	parent_id   TEXT REFERENCES goals(id),
	priority    REAL NOT NULL DEFAULT 5,
	description TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	goal_id     TEXT,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	deadline    INTEGER,
	source      TEXT NOT NULL,
	external_id TEXT NOT NULL DEFAULT '',
	priority    REAL NOT NULL DEFAULT 0,
	overridden  INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'open',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_goal ON tasks(goal_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_external
	ON tasks(source, external_id) WHERE external_id != '';

CREATE TABLE IF NOT EXISTS ingested_items (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	external_id TEXT NOT NULL,
	payload     TEXT NOT NULL DEFAULT '',
	summary     TEXT NOT NULL DEFAULT '',
	occurred_at INTEGER NOT NULL,
	ingested_at INTEGER NOT NULL,
	UNIQUE (source, external_id)
);
CREATE INDEX IF NOT EXISTS idx_items_ingested_at ON ingested_items(ingested_at);

CREATE TABLE IF NOT EXISTS status_overviews (
	goal_id      TEXT PRIMARY KEY REFERENCES goals(id),
	summary      TEXT NOT NULL DEFAULT '',
	progress     INTEGER NOT NULL DEFAULT 0,
	obstacles    TEXT NOT NULL DEFAULT '[]',
	subtask_ids  TEXT NOT NULL DEFAULT '[]',
	generated_at INTEGER NOT NULL,
	status       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS watermarks (
	source     TEXT PRIMARY KEY,
	cursor     TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS context_documents (
	kind       TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS reasoning_audit (
	id            TEXT PRIMARY KEY,
	template      TEXT NOT NULL,
	context_runes INTEGER NOT NULL,
	outcome       TEXT NOT NULL,
	attempts      INTEGER NOT NULL,
	latency_ms    INTEGER NOT NULL,
	created_at    INTEGER NOT NULL
);
`
	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}
