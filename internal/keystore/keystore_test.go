// ABOUTME: Tests for the file-backed key store
// ABOUTME: Covers exclusive writes, partial pairs, and file permissions

package keystore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	s := NewFileStore(dir, nil)
	ctx := context.Background()

	ok, err := s.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrKeyPairNotFound)

	require.NoError(t, s.Save(ctx, []byte("public"), []byte("private")))

	ok, err = s.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	pub, priv, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "public", string(pub))
	assert.Equal(t, "private", string(priv))

	info, err := os.Stat(filepath.Join(dir, PrivateKeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_NeverOverwrites(t *testing.T) {
	s := NewFileStore(t.TempDir(), nil)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, []byte("public-1"), []byte("private-1")))
	err := s.Save(ctx, []byte("public-2"), []byte("private-2"))
	assert.ErrorIs(t, err, ErrKeyPairExists)

	pub, priv, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "public-1", string(pub))
	assert.Equal(t, "private-1", string(priv))
}

func TestFileStore_PartialPair(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, nil)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, PublicKeyFile), []byte("orphan"), 0o644))

	_, err := s.Exists(ctx)
	assert.ErrorIs(t, err, ErrPartialKeyPair)

	_, _, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrPartialKeyPair)

	// Save must not replace the orphan and must not leave a new private key behind.
	err = s.Save(ctx, []byte("public"), []byte("private"))
	assert.ErrorIs(t, err, ErrKeyPairExists)
	_, statErr := os.Stat(filepath.Join(dir, PrivateKeyFile))
	assert.True(t, os.IsNotExist(statErr))

	data, err := os.ReadFile(filepath.Join(dir, PublicKeyFile))
	require.NoError(t, err)
	assert.Equal(t, "orphan", string(data))
}

func TestFileStore_CancelledContext(t *testing.T) {
	s := NewFileStore(t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Exists(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Save(ctx, []byte("a"), []byte("b")), context.Canceled)
}

func TestCreateExclusive_RemovesFileOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PrivateKeyFile)

	err := createExclusive(path, 0o600, func(f *os.File) error {
		// A closed descriptor fails the way a full disk would.
		require.NoError(t, f.Close())
		_, err := f.Write([]byte("private"))
		return err
	})
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// Nothing is left to report as a partial pair, so a retry succeeds.
	s := NewFileStore(dir, nil)
	exists, err := s.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, s.Save(context.Background(), []byte("public"), []byte("private")))
}

func TestCreateExclusive_KeepsFileOnSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), PublicKeyFile)

	require.NoError(t, createExclusive(path, 0o644, func(f *os.File) error {
		_, err := f.Write([]byte("public"))
		return err
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "public", string(data))

	assert.ErrorIs(t, createExclusive(path, 0o644, func(*os.File) error { return nil }), ErrKeyPairExists)
}
