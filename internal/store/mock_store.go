// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	nextID        int64
	registrations map[int64]*RegistrationRecord
	sessions      map[string]*Session
	settings      *InstanceAuthSettings
	audit         []AuditEntry

	// UpdateErr, when set, is returned by UpdateRegistration.
	UpdateErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		registrations: make(map[int64]*RegistrationRecord),
		sessions:      make(map[string]*Session),
	}
}

// CreateRegistration stores a new registration and assigns its Id.
func (m *MockStore) CreateRegistration(ctx context.Context, rec *RegistrationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.registrations {
		if existing.ExtensionId == rec.ExtensionId {
			return ErrDuplicateExtension
		}
	}

	m.nextID++
	rec.Id = m.nextID
	r := *rec
	m.registrations[r.Id] = &r
	return nil
}

// GetRegistration retrieves a registration by id.
func (m *MockStore) GetRegistration(ctx context.Context, id int64) (*RegistrationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.registrations[id]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	result := *r
	return &result, nil
}

// GetRegistrationByExtensionID retrieves a registration by extension id.
func (m *MockStore) GetRegistrationByExtensionID(ctx context.Context, extensionID string) (*RegistrationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.registrations {
		if r.ExtensionId == extensionID {
			result := *r
			return &result, nil
		}
	}
	return nil, ErrRegistrationNotFound
}

// ListRegistrations returns registrations ordered by id.
func (m *MockStore) ListRegistrations(ctx context.Context, filter RegistrationFilter) ([]RegistrationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []RegistrationRecord{}
	for _, r := range m.registrations {
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Id < result[j].Id })
	return result, nil
}

// UpdateRegistration replaces a stored registration.
func (m *MockStore) UpdateRegistration(ctx context.Context, rec *RegistrationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	if _, ok := m.registrations[rec.Id]; !ok {
		return ErrRegistrationNotFound
	}
	r := *rec
	m.registrations[r.Id] = &r
	return nil
}

// DeleteRegistration removes a registration.
func (m *MockStore) DeleteRegistration(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registrations[id]; !ok {
		return ErrRegistrationNotFound
	}
	delete(m.registrations, id)
	return nil
}

// CreateSession stores a session.
func (m *MockStore) CreateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := *session
	m.sessions[s.Id] = &s
	return nil
}

// GetSession retrieves a session by id.
func (m *MockStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	result := *s
	return &result, nil
}

// TouchSession updates LastUsedAt.
func (m *MockStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.LastUsedAt = at
	return nil
}

// DeleteSession removes a session.
func (m *MockStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

// DeleteAllSessions removes every session.
func (m *MockStore) DeleteAllSessions(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[string]*Session)
	return nil
}

// DeleteSessionsIdleSince removes sessions last used before cutoff.
func (m *MockStore) DeleteSessionsIdleSince(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.sessions {
		if s.LastUsedAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// GetInstanceAuthSettings returns the singleton settings.
func (m *MockStore) GetInstanceAuthSettings(ctx context.Context) (*InstanceAuthSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.settings == nil {
		return nil, ErrSettingsNotFound
	}
	result := *m.settings
	return &result, nil
}

// SaveInstanceAuthSettings upserts the singleton settings, preserving CreatedAt.
func (m *MockStore) SaveInstanceAuthSettings(ctx context.Context, settings *InstanceAuthSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	settings.Id = InstanceSettingsID
	s := *settings
	if m.settings != nil {
		s.CreatedAt = m.settings.CreatedAt
	}
	m.settings = &s
	return nil
}

// AppendAuditLog records an audit entry.
func (m *MockStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareAuditEntry(e)
	m.audit = append(m.audit, *e)
	return nil
}

// ListAuditLog returns audit entries newest first.
func (m *MockStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		if f.TargetType != nil && e.TargetType != *f.TargetType {
			continue
		}
		if f.TargetID != nil && e.TargetID != *f.TargetID {
			continue
		}
		result = append(result, e)
	}
	if limit := normalizeAuditLimit(f.Limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
