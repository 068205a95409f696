package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store persists sync pass history in SQLite
type Store struct {
	db *sql.DB
}

// Open opens a connection to the SQLite database, creating its directory
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database with WAL mode, busy timeout and foreign keys on every connection
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks database connectivity
func (s *Store) Ping() error {
	return s.db.Ping()
}

// migrate creates or updates the database schema
func (s *Store) migrate() error {
	migrations := []string{
		// Times are unix milliseconds
		`CREATE TABLE IF NOT EXISTS passes (
			pass_id TEXT PRIMARY KEY,
			engine TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			attempted INTEGER NOT NULL DEFAULT 0,
			bytes_transferred INTEGER NOT NULL DEFAULT 0,
			verified_ok INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			resumed INTEGER NOT NULL DEFAULT 0,
			abandoned INTEGER NOT NULL DEFAULT 0,
			aborted BOOLEAN NOT NULL DEFAULT FALSE,
			abort_reason TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS file_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pass_id TEXT NOT NULL,
			subpath TEXT NOT NULL,
			destination TEXT,
			state TEXT NOT NULL,
			outcome TEXT,
			bytes_written INTEGER NOT NULL DEFAULT 0,
			resumed_from INTEGER NOT NULL DEFAULT 0,
			verify TEXT,
			expected_digest TEXT,
			actual_digest TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (pass_id) REFERENCES passes(pass_id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_passes_finished_at ON passes(finished_at)`,
		`CREATE INDEX IF NOT EXISTS idx_file_results_pass_state ON file_results(pass_id, state)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}
	return nil
}
