// Package store provides persistent storage for gamevault using SQLite.
//
// # Architecture
//
// The store package uses narrow interfaces, one per aggregate:
//
//   - RegistrationStore: extension registrations (trust records)
//   - SessionStore: operator sessions
//   - SettingsStore: the singleton instance credential
//   - AuditStore: append-only audit log of trust decisions
//
// SQLiteStore implements all interfaces in a single struct. Services accept
// only the interface they need.
//
// # Data Models
//
//   - RegistrationRecord: the persisted form of an extension registration.
//     Field names (Id, ExtensionId, PublicKey, Hostname, Os, ExtensionVersion,
//     Status, CreatedAt, LastUpdatedAt) are part of the wire format.
//   - Session: Id, CreatedAt, LastUsedAt
//   - InstanceAuthSettings: singleton with Id=1, PasswordHash, Salt
//   - AuditEntry: who did what to which target
//
// Timestamps are stored as ISO-8601 (RFC 3339, nanosecond precision, UTC).
//
// # Error Handling
//
//   - ErrRegistrationNotFound, ErrSessionNotFound, ErrSettingsNotFound
//   - ErrDuplicateExtension: one registration per extension id
//
// UpdateRegistration reports ErrRegistrationNotFound when the row was
// deleted between read and write; callers treat that as not found.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") or a
// t.TempDir() path for integration tests with real SQLite.
package store
