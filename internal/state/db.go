// Package state provides SQLite-based durable state for vkm: kernel
// records, applied-patch provenance, tunable sets, benchmark results and
// the pending switch-confirmation window. A process restart recovers all
// of it from the database instead of re-deriving it from the live system.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with vkm-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// Path returns the database path under the given state directory.
func Path(stateDir string) string {
	return filepath.Join(stateDir, "vkm.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Kernels},
		{2, migrationV2Patches},
		{3, migrationV3Tunables},
		{4, migrationV4Benchmarks},
		{5, migrationV5Switches},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Kernels = `
CREATE TABLE IF NOT EXISTS kernels (
	id TEXT PRIMARY KEY,
	version TEXT NOT NULL,
	variant TEXT NOT NULL,
	source_path TEXT,
	config_delta TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	package_path TEXT,
	boot_entry_id TEXT,
	pinned INTEGER NOT NULL DEFAULT 0,
	build_log_path TEXT,
	created_at DATETIME NOT NULL,
	activated_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_kernels_status ON kernels(status);
`

const migrationV2Patches = `
CREATE TABLE IF NOT EXISTS patches (
	tree_id TEXT NOT NULL,
	name TEXT NOT NULL,
	source TEXT NOT NULL,
	url TEXT NOT NULL,
	hash TEXT NOT NULL,
	kernel_range TEXT,
	order_index INTEGER NOT NULL,
	applied_at DATETIME NOT NULL,
	PRIMARY KEY (tree_id, hash)
);

CREATE INDEX IF NOT EXISTS idx_patches_tree ON patches(tree_id, order_index);
`

const migrationV3Tunables = `
CREATE TABLE IF NOT EXISTS tunable_sets (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	applied_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tunables (
	set_id TEXT NOT NULL REFERENCES tunable_sets(id) ON DELETE CASCADE,
	idx INTEGER NOT NULL,
	key TEXT NOT NULL,
	previous TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (set_id, idx)
);
`

const migrationV4Benchmarks = `
CREATE TABLE IF NOT EXISTS benchmarks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	category TEXT NOT NULL,
	metric TEXT NOT NULL,
	value REAL NOT NULL,
	unit TEXT NOT NULL,
	kernel_id TEXT,
	tunable_set_id TEXT,
	measured_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_benchmarks_category ON benchmarks(category);
`

const migrationV5Switches = `
CREATE TABLE IF NOT EXISTS switches (
	id TEXT PRIMARY KEY,
	from_kernel TEXT NOT NULL,
	to_kernel TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	deadline DATETIME NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_switches_status ON switches(status);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
