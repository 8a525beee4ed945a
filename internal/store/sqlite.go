// ABOUTME: SQLite implementation of the Store interfaces using modernc.org/sqlite
// ABOUTME: Opens the database, enables WAL and foreign keys, and creates the schema

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is the ISO-8601 layout used for every persisted timestamp.
// Fixed-width fractions keep lexical order equal to time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed; ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database lives per connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS extension_registrations (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			extension_id      TEXT NOT NULL UNIQUE,
			public_key        TEXT NOT NULL,
			hostname          TEXT,
			os                TEXT,
			extension_version TEXT,
			status            TEXT NOT NULL,
			created_at        TEXT NOT NULL,
			last_updated_at   TEXT NOT NULL,

			CHECK (extension_id <> ''),
			CHECK (public_key <> ''),
			CHECK (status IN ('pending', 'trusted', 'rejected'))
		);

		CREATE INDEX IF NOT EXISTS idx_registrations_status ON extension_registrations(status);

		CREATE TABLE IF NOT EXISTS instance_auth_settings (
			id              INTEGER PRIMARY KEY CHECK (id = 1),
			password_hash   TEXT NOT NULL,
			salt            TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			last_updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS instance_sessions (
			id           TEXT PRIMARY KEY,
			created_at   TEXT NOT NULL,
			last_used_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_last_used ON instance_sessions(last_used_at);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			actor       TEXT NOT NULL,
			action      TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id   TEXT NOT NULL,
			ts          TEXT NOT NULL,
			detail_json TEXT,

			CHECK (action IN (
				'request_registration',
				'approve_registration',
				'reject_registration',
				'revoke_registration',
				'remove_registration',
				'instance_setup',
				'instance_password_change'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target_type, target_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// formatTime renders t as an ISO-8601 UTC string.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a timestamp written by formatTime.
func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

// nullString maps an optional string to a nullable column value.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// stringPtr maps a nullable column back to an optional string.
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
