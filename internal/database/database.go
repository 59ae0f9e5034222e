// Package database stores confirmed bookings, knowledge base entries and
// domain events in SQLite.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps sql.DB for the booking agent.
type DB struct {
	*sql.DB
	path string
}

// NewDB opens database at path and runs migrations.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{DB: db, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			service TEXT NOT NULL,
			package TEXT NOT NULL,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			phone TEXT NOT NULL,
			phone_country TEXT,
			service_country TEXT NOT NULL,
			address TEXT NOT NULL,
			pincode TEXT NOT NULL,
			event_date TEXT NOT NULL,
			message TEXT,
			language TEXT NOT NULL DEFAULT 'en',
			source TEXT NOT NULL DEFAULT 'agent_chat',
			status TEXT NOT NULL DEFAULT 'confirmed',
			created_at DATETIME NOT NULL,
			confirmation_key TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS knowledge_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			category TEXT,
			content TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT 'en',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS agent_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			payload BLOB,
			processed BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_created ON bookings(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_session ON bookings(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_lang ON knowledge_entries(language, is_active)`,
		`CREATE INDEX IF NOT EXISTS idx_events_processed ON agent_events(processed, id)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return ensureColumns(db)
}

// ensureColumns upgrades databases created before a column existed.
func ensureColumns(db *sql.DB) error {
	migrations := []string{
		`ALTER TABLE bookings ADD COLUMN confirmation_key TEXT`,
	}
	for _, m := range migrations {
		_, err := db.Exec(m)
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			return fmt.Errorf("exec migration %s: %w", trimSQL(m), err)
		}
	}
	if _, err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_confirmation ON bookings(confirmation_key)`); err != nil {
		return fmt.Errorf("create confirmation index: %w", err)
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
