// Package db provides the SQLite connection and schema shared by the
// transmission ledger and the persisted state vector.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Transmission ledger - append-only history of every burst handed to the transmitter
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transmission_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			batch_id TEXT NOT NULL,
			operations INTEGER NOT NULL DEFAULT 0,
			commands TEXT,
			strategy TEXT,
			exit_code INTEGER,
			duration_ms INTEGER,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_ts ON transmission_ledger(event_type, timestamp);
		CREATE INDEX IF NOT EXISTS idx_ledger_ts ON transmission_ledger(timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create transmission_ledger table: %w", err)
	}

	// One batch id is recorded at most once per outcome
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_batch_event
		ON transmission_ledger(batch_id, event_type);
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_ledger_batch_event index: %w", err)
	}

	// Target state - last committed state vector per emitter id
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS target_state (
			emitter_id INTEGER NOT NULL,
			address INTEGER NOT NULL,
			state TEXT NOT NULL,
			version INTEGER DEFAULT 1,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (emitter_id, address)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create target_state table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
