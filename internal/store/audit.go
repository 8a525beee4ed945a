// ABOUTME: Audit log entity and store methods for tracking trust decisions
// ABOUTME: Records who changed which registration or credential and when

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditRequestRegistration   AuditAction = "request_registration"
	AuditApproveRegistration   AuditAction = "approve_registration"
	AuditRejectRegistration    AuditAction = "reject_registration"
	AuditRevokeRegistration    AuditAction = "revoke_registration"
	AuditRemoveRegistration    AuditAction = "remove_registration"
	AuditInstanceSetup         AuditAction = "instance_setup"
	AuditInstancePasswordReset AuditAction = "instance_password_change"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditRequestRegistration,
	AuditApproveRegistration,
	AuditRejectRegistration,
	AuditRevokeRegistration,
	AuditRemoveRegistration,
	AuditInstanceSetup,
	AuditInstancePasswordReset,
}

// Valid reports whether a is one of ValidAuditActions.
func (a AuditAction) Valid() bool {
	return slices.Contains(ValidAuditActions, a)
}

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         string         // UUID v4
	Actor      string         // "instance" or "extension:<extension id>"
	Action     AuditAction    // what action was performed
	TargetType string         // "registration", "instance"
	TargetID   string         // ID of the affected resource
	Timestamp  time.Time      // when it happened
	Detail     map[string]any // additional context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since      *time.Time   // entries after this time
	Action     *AuditAction // filter by action type
	TargetType *string      // filter by target type
	TargetID   *string      // filter by target ID
	Limit      int          // max results (default 100, max 1000)
}

// prepareAuditEntry fills in a generated ID and timestamp when unset.
func prepareAuditEntry(e *AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	prepareAuditEntry(e)

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (audit_id, actor, action, target_type, target_id, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Actor,
		e.Action,
		e.TargetType,
		e.TargetID,
		formatTime(e.Timestamp),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.Actor,
		"action", e.Action,
		"target", e.TargetType+"/"+e.TargetID,
	)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var actionStr, tsStr string
	var detailJSON *string

	if err := scanner.Scan(
		&e.ID,
		&e.Actor,
		&actionStr,
		&e.TargetType,
		&e.TargetID,
		&tsStr,
		&detailJSON,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(actionStr)
	var err error
	if e.Timestamp, err = parseTime("ts", tsStr); err != nil {
		return e, err
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

const auditLogQuery = `
	SELECT audit_id, actor, action, target_type, target_id, ts, detail_json
	FROM audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR action = ?)
	  AND (? IS NULL OR target_type = ?)
	  AND (? IS NULL OR target_id = ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first (DESC by timestamp).
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	var since, action *string
	if f.Since != nil {
		v := formatTime(*f.Since)
		since = &v
	}
	if f.Action != nil {
		v := string(*f.Action)
		action = &v
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		since, since,
		action, action,
		f.TargetType, f.TargetType,
		f.TargetID, f.TargetID,
		normalizeAuditLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}
