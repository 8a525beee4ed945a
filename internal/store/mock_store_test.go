// ABOUTME: Tests for the in-memory MockStore
// ABOUTME: Ensures the mock mirrors SQLiteStore semantics that services rely on

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_RegistrationsAreCopied(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	rec := testRegistration("ext-1")
	require.NoError(t, m.CreateRegistration(ctx, rec))
	assert.Equal(t, int64(1), rec.Id)

	rec.Status = "trusted"
	got, err := m.GetRegistration(ctx, rec.Id)
	require.NoError(t, err)
	assert.Equal(t, "pending", got.Status, "mutating the caller's record must not change the store")
}

func TestMockStore_DuplicateAndMissing(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.CreateRegistration(ctx, testRegistration("ext-1")))
	assert.ErrorIs(t, m.CreateRegistration(ctx, testRegistration("ext-1")), ErrDuplicateExtension)

	missing := testRegistration("ext-2")
	missing.Id = 99
	assert.ErrorIs(t, m.UpdateRegistration(ctx, missing), ErrRegistrationNotFound)
	assert.ErrorIs(t, m.DeleteRegistration(ctx, 99), ErrRegistrationNotFound)
}

func TestMockStore_UpdateErr(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	rec := testRegistration("ext-1")
	require.NoError(t, m.CreateRegistration(ctx, rec))

	boom := errors.New("disk full")
	m.UpdateErr = boom
	assert.ErrorIs(t, m.UpdateRegistration(ctx, rec), boom)
}

func TestMockStore_SettingsPreserveCreatedAt(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	first := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, m.SaveInstanceAuthSettings(ctx, &InstanceAuthSettings{PasswordHash: "a", Salt: "b", CreatedAt: first, LastUpdatedAt: first}))
	require.NoError(t, m.SaveInstanceAuthSettings(ctx, &InstanceAuthSettings{PasswordHash: "c", Salt: "d", CreatedAt: time.Now(), LastUpdatedAt: time.Now()}))

	got, err := m.GetInstanceAuthSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", got.PasswordHash)
	assert.True(t, first.Equal(got.CreatedAt))
}

func TestMockStore_SessionsIdleSweep(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, m.CreateSession(ctx, &Session{Id: "old", LastUsedAt: now.Add(-time.Hour)}))
	require.NoError(t, m.CreateSession(ctx, &Session{Id: "new", LastUsedAt: now}))

	n, err := m.DeleteSessionsIdleSince(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.GetSession(ctx, "old")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
