// ABOUTME: Persisted record types and store interfaces for gamevault
// ABOUTME: Defines registration, session, instance settings, and audit persistence contracts

package store

import (
	"context"
	"errors"
	"time"
)

// ErrRegistrationNotFound is returned when an extension registration doesn't exist.
var ErrRegistrationNotFound = errors.New("extension registration not found")

// ErrDuplicateExtension is returned when a registration for the extension id already exists.
var ErrDuplicateExtension = errors.New("extension already registered")

// ErrSessionNotFound is returned when an instance session doesn't exist.
var ErrSessionNotFound = errors.New("instance session not found")

// ErrSettingsNotFound is returned when the instance has not been registered yet.
var ErrSettingsNotFound = errors.New("instance auth settings not found")

// InstanceSettingsID is the fixed id of the singleton instance auth settings row.
const InstanceSettingsID = 1

// RegistrationRecord is the persisted shape of an extension registration.
// Field names round-trip through the registration mapper unchanged.
type RegistrationRecord struct {
	Id               int64     `json:"Id"`
	ExtensionId      string    `json:"ExtensionId"`
	PublicKey        string    `json:"PublicKey"`
	Hostname         *string   `json:"Hostname"`
	Os               *string   `json:"Os"`
	ExtensionVersion *string   `json:"ExtensionVersion"`
	Status           string    `json:"Status"` // pending, trusted, rejected
	CreatedAt        time.Time `json:"CreatedAt"`
	LastUpdatedAt    time.Time `json:"LastUpdatedAt"`
}

// RegistrationFilter narrows ListRegistrations. A nil Status lists everything.
type RegistrationFilter struct {
	Status *string
}

// Session is an authenticated operator session.
type Session struct {
	Id         string    `json:"Id"`
	CreatedAt  time.Time `json:"CreatedAt"`
	LastUsedAt time.Time `json:"LastUsedAt"`
}

// InstanceAuthSettings is the singleton operator credential record.
type InstanceAuthSettings struct {
	Id            int64     `json:"Id"`
	PasswordHash  string    `json:"PasswordHash"` // hex scrypt output
	Salt          string    `json:"Salt"`         // hex random salt
	CreatedAt     time.Time `json:"CreatedAt"`
	LastUpdatedAt time.Time `json:"LastUpdatedAt"`
}

// RegistrationStore persists extension registrations.
type RegistrationStore interface {
	// CreateRegistration inserts rec and assigns rec.Id.
	CreateRegistration(ctx context.Context, rec *RegistrationRecord) error
	GetRegistration(ctx context.Context, id int64) (*RegistrationRecord, error)
	GetRegistrationByExtensionID(ctx context.Context, extensionID string) (*RegistrationRecord, error)
	ListRegistrations(ctx context.Context, filter RegistrationFilter) ([]RegistrationRecord, error)
	// UpdateRegistration returns ErrRegistrationNotFound if the row was deleted meanwhile.
	UpdateRegistration(ctx context.Context, rec *RegistrationRecord) error
	DeleteRegistration(ctx context.Context, id int64) error
}

// SessionStore persists operator sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteAllSessions(ctx context.Context) error
	// DeleteSessionsIdleSince removes sessions last used before cutoff and
	// returns how many were removed.
	DeleteSessionsIdleSince(ctx context.Context, cutoff time.Time) (int, error)
}

// SettingsStore persists the singleton instance auth settings.
type SettingsStore interface {
	GetInstanceAuthSettings(ctx context.Context) (*InstanceAuthSettings, error)
	SaveInstanceAuthSettings(ctx context.Context, settings *InstanceAuthSettings) error
}

// AuditStore persists the append-only audit log.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	RegistrationStore
	SessionStore
	SettingsStore
	AuditStore
	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MockStore)(nil)
)
