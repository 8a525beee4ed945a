// ABOUTME: Instance session and auth settings store methods for the SQLite backend
// ABOUTME: Sessions are opaque ids; settings are a single row with id 1

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateSession stores a new operator session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `INSERT INTO instance_sessions (id, created_at, last_used_at) VALUES (?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		session.Id,
		formatTime(session.CreatedAt),
		formatTime(session.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
// Returns ErrSessionNotFound if it doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `SELECT id, created_at, last_used_at FROM instance_sessions WHERE id = ?`

	var session Session
	var createdAtStr, lastUsedStr string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&session.Id, &createdAtStr, &lastUsedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if session.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	if session.LastUsedAt, err = parseTime("last_used_at", lastUsedStr); err != nil {
		return nil, err
	}
	return &session, nil
}

// TouchSession updates last_used_at for a session.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE instance_sessions SET last_used_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM instance_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteAllSessions removes every operator session.
func (s *SQLiteStore) DeleteAllSessions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM instance_sessions`); err != nil {
		return fmt.Errorf("deleting sessions: %w", err)
	}
	return nil
}

// DeleteSessionsIdleSince removes sessions last used before cutoff.
func (s *SQLiteStore) DeleteSessionsIdleSince(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM instance_sessions WHERE last_used_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting idle sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return int(n), nil
}

// GetInstanceAuthSettings retrieves the singleton settings row.
// Returns ErrSettingsNotFound before the operator has registered.
func (s *SQLiteStore) GetInstanceAuthSettings(ctx context.Context) (*InstanceAuthSettings, error) {
	query := `SELECT id, password_hash, salt, created_at, last_updated_at FROM instance_auth_settings WHERE id = ?`

	var settings InstanceAuthSettings
	var createdAtStr, updatedAtStr string
	err := s.db.QueryRowContext(ctx, query, InstanceSettingsID).Scan(
		&settings.Id,
		&settings.PasswordHash,
		&settings.Salt,
		&createdAtStr,
		&updatedAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying instance auth settings: %w", err)
	}

	if settings.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	if settings.LastUpdatedAt, err = parseTime("last_updated_at", updatedAtStr); err != nil {
		return nil, err
	}
	return &settings, nil
}

// SaveInstanceAuthSettings inserts or replaces the singleton settings row.
// The stored created_at is preserved across updates.
func (s *SQLiteStore) SaveInstanceAuthSettings(ctx context.Context, settings *InstanceAuthSettings) error {
	settings.Id = InstanceSettingsID

	query := `
		INSERT INTO instance_auth_settings (id, password_hash, salt, created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			password_hash = excluded.password_hash,
			salt = excluded.salt,
			last_updated_at = excluded.last_updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		settings.Id,
		settings.PasswordHash,
		settings.Salt,
		formatTime(settings.CreatedAt),
		formatTime(settings.LastUpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving instance auth settings: %w", err)
	}
	return nil
}
