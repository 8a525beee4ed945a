// ABOUTME: Extension registration store methods for the SQLite backend
// ABOUTME: CRUD over extension_registrations with nullable metadata columns

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const registrationColumns = `id, extension_id, public_key, hostname, os, extension_version, status, created_at, last_updated_at`

// CreateRegistration inserts a new registration and assigns its Id.
// Returns ErrDuplicateExtension if the extension id is already registered.
func (s *SQLiteStore) CreateRegistration(ctx context.Context, rec *RegistrationRecord) error {
	if rec.Id != 0 {
		return fmt.Errorf("creating registration: id already assigned (%d)", rec.Id)
	}

	query := `
		INSERT INTO extension_registrations (extension_id, public_key, hostname, os, extension_version, status, created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		rec.ExtensionId,
		rec.PublicKey,
		nullString(rec.Hostname),
		nullString(rec.Os),
		nullString(rec.ExtensionVersion),
		rec.Status,
		formatTime(rec.CreatedAt),
		formatTime(rec.LastUpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateExtension
		}
		return fmt.Errorf("inserting registration: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading registration id: %w", err)
	}
	rec.Id = id

	s.logger.Debug("created registration", "id", id, "extension_id", rec.ExtensionId)
	return nil
}

// scanRegistration scans a row into a RegistrationRecord.
func scanRegistration(scanner interface{ Scan(dest ...any) error }) (*RegistrationRecord, error) {
	var rec RegistrationRecord
	var hostname, osLabel, version sql.NullString
	var createdAtStr, updatedAtStr string

	if err := scanner.Scan(
		&rec.Id,
		&rec.ExtensionId,
		&rec.PublicKey,
		&hostname,
		&osLabel,
		&version,
		&rec.Status,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}

	rec.Hostname = stringPtr(hostname)
	rec.Os = stringPtr(osLabel)
	rec.ExtensionVersion = stringPtr(version)

	var err error
	if rec.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	if rec.LastUpdatedAt, err = parseTime("last_updated_at", updatedAtStr); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetRegistration retrieves a registration by id.
// Returns ErrRegistrationNotFound if it doesn't exist.
func (s *SQLiteStore) GetRegistration(ctx context.Context, id int64) (*RegistrationRecord, error) {
	query := `SELECT ` + registrationColumns + ` FROM extension_registrations WHERE id = ?`

	rec, err := scanRegistration(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying registration: %w", err)
	}
	return rec, nil
}

// GetRegistrationByExtensionID retrieves a registration by its extension id.
func (s *SQLiteStore) GetRegistrationByExtensionID(ctx context.Context, extensionID string) (*RegistrationRecord, error) {
	query := `SELECT ` + registrationColumns + ` FROM extension_registrations WHERE extension_id = ?`

	rec, err := scanRegistration(s.db.QueryRowContext(ctx, query, extensionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRegistrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying registration by extension id: %w", err)
	}
	return rec, nil
}

// ListRegistrations returns registrations ordered by id.
func (s *SQLiteStore) ListRegistrations(ctx context.Context, filter RegistrationFilter) ([]RegistrationRecord, error) {
	query := `SELECT ` + registrationColumns + ` FROM extension_registrations
		WHERE (? IS NULL OR status = ?)
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, filter.Status, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("querying registrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := []RegistrationRecord{}
	for rows.Next() {
		rec, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning registration: %w", err)
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registrations: %w", err)
	}
	return result, nil
}

// UpdateRegistration writes the mutable fields of rec.
// Returns ErrRegistrationNotFound if the row no longer exists.
func (s *SQLiteStore) UpdateRegistration(ctx context.Context, rec *RegistrationRecord) error {
	query := `
		UPDATE extension_registrations
		SET public_key = ?, hostname = ?, os = ?, extension_version = ?, status = ?, last_updated_at = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		rec.PublicKey,
		nullString(rec.Hostname),
		nullString(rec.Os),
		nullString(rec.ExtensionVersion),
		rec.Status,
		formatTime(rec.LastUpdatedAt),
		rec.Id,
	)
	if err != nil {
		return fmt.Errorf("updating registration: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrRegistrationNotFound
	}

	s.logger.Debug("updated registration", "id", rec.Id, "status", rec.Status)
	return nil
}

// DeleteRegistration removes a registration by id.
func (s *SQLiteStore) DeleteRegistration(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM extension_registrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting registration: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrRegistrationNotFound
	}

	s.logger.Debug("deleted registration", "id", id)
	return nil
}
