// Package storage persists the client's local state in SQLite: the account
// balance and its ledger, finished-session history, chat transcripts and
// the cache of partner profiles.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the client's SQLite database.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

var schema = []struct {
	name string
	ddl  string
}{
	{"meta", `
		CREATE TABLE IF NOT EXISTS _meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		);`},
	{"accounts", `
		CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			balance    INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`},
	{"ledger", `
		CREATE TABLE IF NOT EXISTS ledger (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			slot       INTEGER NOT NULL,
			amount     INTEGER NOT NULL,
			balance    INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE (session_id, slot)
		);`},
	{"sessions", `
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			type         TEXT NOT NULL,
			role         TEXT NOT NULL,
			partner_id   TEXT NOT NULL,
			partner_name TEXT DEFAULT '',
			rate         INTEGER NOT NULL DEFAULT 0,
			charge       INTEGER NOT NULL DEFAULT 0,
			started_at   INTEGER,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			end_reason   TEXT DEFAULT '',
			ended_at     INTEGER NOT NULL
		);`},
	{"messages", `
		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT NOT NULL,
			session_id TEXT NOT NULL,
			from_id    TEXT DEFAULT '',
			from_name  TEXT DEFAULT '',
			text       TEXT NOT NULL,
			via        TEXT DEFAULT '',
			outgoing   INTEGER DEFAULT 0,
			ts         INTEGER NOT NULL,
			seq        INTEGER PRIMARY KEY AUTOINCREMENT
		);`},
	{"messages index", `CREATE INDEX IF NOT EXISTS messages_session ON messages (session_id, seq);`},
	{"partners", `
		CREATE TABLE IF NOT EXISTS partners (
			id        TEXT PRIMARY KEY,
			name      TEXT DEFAULT '',
			role      TEXT DEFAULT '',
			image     TEXT DEFAULT '',
			rates     TEXT DEFAULT '',
			last_seen INTEGER NOT NULL
		);`},
}

// Open opens or creates data.db in the given directory.
func Open(configDir string) (*DB, error) {
	dbPath := filepath.Join(configDir, "data.db")

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	for _, s := range schema {
		if _, err := db.Exec(s.ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("create %s table: %w", s.name, err)
		}
	}

	return &DB{db: db, path: dbPath}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// GetMeta returns a metadata value, or "" when unset.
func (d *DB) GetMeta(key string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var v string
	if err := d.db.QueryRow(`SELECT value FROM _meta WHERE key = ?`, key).Scan(&v); err != nil {
		return ""
	}
	return v
}

// SetMeta stores a metadata value.
func (d *DB) SetMeta(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO _meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
