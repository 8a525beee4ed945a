// ABOUTME: File-backed storage for the server's signing key pair
// ABOUTME: Writes PEM files once with exclusive create and never overwrites existing material

package keystore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// PublicKeyFile holds the SPKI "PUBLIC KEY" PEM block.
	PublicKeyFile = "server_public.pem"
	// PrivateKeyFile holds the PKCS8 "PRIVATE KEY" PEM block.
	PrivateKeyFile = "server_private.pem"
)

// ErrPartialKeyPair is returned when only one of the two key files exists.
var ErrPartialKeyPair = errors.New("key store holds only half of a key pair")

// ErrKeyPairExists is returned by Save when key material is already present.
var ErrKeyPairExists = errors.New("key pair already exists")

// ErrKeyPairNotFound is returned by Load when no key files exist.
var ErrKeyPairNotFound = errors.New("key pair not found")

// FileStore keeps the key pair as two files in one directory.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates a FileStore rooted at dir. The directory is created
// on first Save.
func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With("component", "keystore"),
	}
}

func (s *FileStore) publicPath() string  { return filepath.Join(s.dir, PublicKeyFile) }
func (s *FileStore) privatePath() string { return filepath.Join(s.dir, PrivateKeyFile) }

// Exists reports whether both key files are present. A lone file is
// ErrPartialKeyPair so the caller never generates over it.
func (s *FileStore) Exists(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	pub, err := fileExists(s.publicPath())
	if err != nil {
		return false, err
	}
	priv, err := fileExists(s.privatePath())
	if err != nil {
		return false, err
	}

	switch {
	case pub && priv:
		return true, nil
	case !pub && !priv:
		return false, nil
	default:
		return false, fmt.Errorf("%w in %s", ErrPartialKeyPair, s.dir)
	}
}

// Load reads both PEM files.
func (s *FileStore) Load(ctx context.Context) (publicPEM, privatePEM []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	publicPEM, err = os.ReadFile(s.publicPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrKeyPairNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading public key: %w", err)
	}

	privatePEM, err = os.ReadFile(s.privatePath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w in %s", ErrPartialKeyPair, s.dir)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading private key: %w", err)
	}

	return publicPEM, privatePEM, nil
}

// Save writes a new key pair. Both files are created exclusively; if either
// already exists nothing is overwritten and ErrKeyPairExists is returned.
func (s *FileStore) Save(ctx context.Context, publicPEM, privatePEM []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	// Private key first: a crash between the two writes leaves a partial
	// pair that Exists reports instead of a public key with no signer.
	if err := writeExclusive(s.privatePath(), privatePEM, 0o600); err != nil {
		return err
	}
	if err := writeExclusive(s.publicPath(), publicPEM, 0o644); err != nil {
		// The private file was created by this call.
		_ = os.Remove(s.privatePath())
		return err
	}

	s.logger.Info("key pair written", "dir", s.dir)
	return nil
}

func writeExclusive(path string, data []byte, perm os.FileMode) error {
	return createExclusive(path, perm, func(f *os.File) error {
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("syncing %s: %w", filepath.Base(path), err)
		}
		return nil
	})
}

// createExclusive creates path, which must not exist, and fills it. The file
// is removed again if fill or Close fails.
func createExclusive(path string, perm os.FileMode, fill func(*os.File) error) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrKeyPairExists, path)
	}
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}

	err = fill(f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing %s: %w", filepath.Base(path), cerr)
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking %s: %w", filepath.Base(path), err)
}
