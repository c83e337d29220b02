// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// The store plays the part of a document store: each public method is one
// atomic statement (or one short transaction over a single row), and every
// successful write publishes a change signal on the matching topic so the
// services can offer live subscriptions (see internal/watch).
//
// DRIVER:
// modernc.org/sqlite is a pure Go translation of SQLite, so no C compiler is needed.
// The blank import registers the "sqlite" driver with database/sql.
//
// ONE CONNECTION:
// The pool is capped at a single connection. SQLite allows one writer at a
// time anyway, and ":memory:" databases are per-connection, so tests would
// otherwise see an empty database on the second connection.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/fleetchat/internal/repository"
	"github.com/sakif/fleetchat/internal/watch"
)

var _ repository.ChangeNotifier = (*DB)(nil)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
	hub  *watch.Hub
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/fleetchat.db"  → file-based database (persistent)
//   - ":memory:"           → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn, hub: watch.NewHub()}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Subscribe returns a listener for change signals on topic.
func (db *DB) Subscribe(topic string) *watch.Listener {
	return db.hub.Subscribe(topic)
}

// migrate creates all tables. CREATE ... IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	// accounts backs the built-in identity provider.
	// login_handle is NULL for federated accounts; (provider, provider_subject)
	// is NULL for password accounts. Both are UNIQUE when present.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id               TEXT PRIMARY KEY,
			provider         TEXT NOT NULL,
			login_handle     TEXT UNIQUE,
			password_hash    TEXT NOT NULL DEFAULT '',
			provider_subject TEXT,
			display_name     TEXT NOT NULL DEFAULT '',
			photo_url        TEXT NOT NULL DEFAULT '',
			created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (provider, provider_subject)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating accounts table: %w", err)
	}

	// profiles.username is indexed but deliberately NOT unique: uniqueness is
	// the registry's job (see username_claims).
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			account_id      TEXT PRIMARY KEY,
			username        TEXT NOT NULL,
			username_source TEXT NOT NULL DEFAULT 'chosen',
			profile_pic     TEXT NOT NULL DEFAULT '',
			created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_profiles_username ON profiles(username);
	`)
	if err != nil {
		return fmt.Errorf("creating profiles table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS username_claims (
			normalized TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			claimed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating username_claims table: %w", err)
	}

	// messages.seq is the commit counter; server_time_ns is unix nanoseconds
	// so that MAX() and ORDER BY compare numerically.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			seq               INTEGER PRIMARY KEY AUTOINCREMENT,
			id                TEXT NOT NULL UNIQUE,
			sender_account_id TEXT NOT NULL DEFAULT '',
			client_message_id TEXT NOT NULL DEFAULT '',
			text              TEXT NOT NULL,
			username          TEXT NOT NULL,
			profile_pic       TEXT NOT NULL DEFAULT '',
			server_time_ns    INTEGER NOT NULL,
			display_time      TEXT NOT NULL DEFAULT '',
			device_tag        TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_messages_order ON messages(server_time_ns, seq);
		CREATE INDEX IF NOT EXISTS idx_messages_username ON messages(username);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_sender_client_id
			ON messages(sender_account_id, client_message_id) WHERE client_message_id <> '';
	`)
	if err != nil {
		return fmt.Errorf("creating messages table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a UNIQUE / PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
