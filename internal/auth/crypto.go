// ABOUTME: Password hashing and session token primitives for operator auth
// ABOUTME: scrypt-derived hashes, random session ids, and constant-time comparisons

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	// SaltLength is the number of random salt bytes per password.
	SaltLength = 256

	// HashLength is the scrypt output length in bytes.
	HashLength = 64

	// SessionIDLength is the raw length of a session id in bytes.
	SessionIDLength = 32
)

// ScryptParams are the scrypt cost parameters.
type ScryptParams struct {
	N int
	R int
	P int
}

// DefaultScryptParams are the interactive-login defaults (16 MiB per hash).
var DefaultScryptParams = ScryptParams{N: 1 << 14, R: 8, P: 1}

// PasswordHash is a hex-encoded salt and derived key pair.
type PasswordHash struct {
	Salt string
	Hash string
}

// Cryptography hashes operator passwords and issues and compares session ids.
// It holds no mutable state and is safe for concurrent use.
type Cryptography struct {
	params ScryptParams
}

// NewCryptography creates a Cryptography with the default scrypt parameters.
func NewCryptography() *Cryptography {
	return &Cryptography{params: DefaultScryptParams}
}

// NewCryptographyWithParams creates a Cryptography with custom scrypt parameters.
func NewCryptographyWithParams(params ScryptParams) *Cryptography {
	return &Cryptography{params: params}
}

// HashPassword generates a fresh salt and derives the password hash.
func (c *Cryptography) HashPassword(password string) (PasswordHash, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return PasswordHash{}, fmt.Errorf("generating salt: %w", err)
	}

	key, err := c.derive(password, salt)
	if err != nil {
		return PasswordHash{}, err
	}

	return PasswordHash{
		Salt: hex.EncodeToString(salt),
		Hash: hex.EncodeToString(key),
	}, nil
}

// VerifyPassword re-derives the hash with the stored salt and compares it in
// constant time. Malformed stored values never match.
func (c *Cryptography) VerifyPassword(password string, stored PasswordHash) bool {
	salt, err := hex.DecodeString(stored.Salt)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(stored.Hash)
	if err != nil {
		return false
	}

	got, err := c.derive(password, salt)
	if err != nil {
		return false
	}

	// ConstantTimeCompare returns 0 for unequal lengths without inspecting content.
	return subtle.ConstantTimeCompare(got, want) == 1
}

func (c *Cryptography) derive(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, c.params.N, c.params.R, c.params.P, HashLength)
	if err != nil {
		return nil, fmt.Errorf("deriving password hash: %w", err)
	}
	return key, nil
}

// CreateSessionID returns a new hex-encoded random session id.
func (c *Cryptography) CreateSessionID() (string, error) {
	b := make([]byte, SessionIDLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CompareSessionIDs reports whether two hex session ids are equal.
// Either id failing to decode to SessionIDLength bytes is a mismatch; that
// check depends only on the untrusted input's length. The byte comparison
// itself is constant time.
func (c *Cryptography) CompareSessionIDs(a, b string) bool {
	ra, okA := decodeSessionID(a)
	rb, okB := decodeSessionID(b)
	if !okA || !okB {
		return false
	}
	return subtle.ConstantTimeCompare(ra, rb) == 1
}

// ValidSessionIDFormat reports whether id decodes to a full-length session id.
func ValidSessionIDFormat(id string) bool {
	_, ok := decodeSessionID(id)
	return ok
}

func decodeSessionID(id string) ([]byte, bool) {
	if len(id) != hex.EncodedLen(SessionIDLength) {
		return nil, false
	}
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != SessionIDLength {
		return nil, false
	}
	return raw, true
}
