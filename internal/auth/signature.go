// ABOUTME: Server key pair lifecycle plus SHA-256 signing and signature verification
// ABOUTME: Generates the RSA pair once, signs with the private key, verifies extension signatures

package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/2389/gamevault/internal/keystore"
)

const (
	// DefaultKeyBits is the RSA modulus size of the server key pair.
	DefaultKeyBits = 4096

	// MinKeyBits is the smallest modulus WithKeyBits accepts.
	MinKeyBits = 2048
)

// ErrInvalidKey is returned when key material cannot be parsed.
var ErrInvalidKey = errors.New("invalid key")

// KeyStore holds the server key pair as PEM bytes.
type KeyStore interface {
	Exists(ctx context.Context) (bool, error)
	Load(ctx context.Context) (publicPEM, privatePEM []byte, err error)
	Save(ctx context.Context, publicPEM, privatePEM []byte) error
}

// SignatureOption configures a SignatureService.
type SignatureOption func(*SignatureService)

// WithKeyBits overrides the RSA modulus size used by GenerateKeyPair.
// Values below MinKeyBits are raised to MinKeyBits.
func WithKeyBits(bits int) SignatureOption {
	return func(s *SignatureService) {
		if bits < MinKeyBits {
			bits = MinKeyBits
		}
		s.bits = bits
	}
}

// SignatureService owns the server key pair and verifies signatures made
// by extensions.
type SignatureService struct {
	keys   KeyStore
	bits   int
	logger *slog.Logger
}

// NewSignatureService creates a SignatureService over keys.
func NewSignatureService(keys KeyStore, logger *slog.Logger, opts ...SignatureOption) *SignatureService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &SignatureService{
		keys:   keys,
		bits:   DefaultKeyBits,
		logger: logger.With("component", "signature"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateKeyPair creates and persists the server key pair unless one is
// already stored. Calling it again is a no-op; existing keys are never replaced.
func (s *SignatureService) GenerateKeyPair(ctx context.Context) error {
	exists, err := s.keys.Exists(ctx)
	if err != nil {
		return fmt.Errorf("checking key store: %w", err)
	}
	if exists {
		s.logger.Debug("key pair already present")
		return nil
	}

	s.logger.Info("generating server key pair", "bits", s.bits)
	key, err := rsa.GenerateKey(rand.Reader, s.bits)
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("encoding public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("encoding private key: %w", err)
	}

	// The generation check above is not atomic with Save; the store's
	// exclusive create is what guarantees a single pair.
	err = s.keys.Save(ctx,
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}),
	)
	if errors.Is(err, keystore.ErrKeyPairExists) {
		if exists, checkErr := s.keys.Exists(ctx); checkErr == nil && exists {
			s.logger.Info("key pair created concurrently, keeping existing pair")
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("saving key pair: %w", err)
	}
	return nil
}

// PublicKey returns the server's SPKI public key as PEM.
func (s *SignatureService) PublicKey(ctx context.Context) (string, error) {
	pub, _, err := s.keys.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("loading key pair: %w", err)
	}
	return string(pub), nil
}

// Sign signs data with the server private key using SHA-256 and returns the
// base64-encoded signature.
func (s *SignatureService) Sign(ctx context.Context, data []byte) (string, error) {
	_, privPEM, err := s.keys.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("loading key pair: %w", err)
	}

	signer, err := ParsePrivateKey(privPEM)
	if err != nil {
		return "", err
	}

	sig, err := signPayload(signer, data)
	if err != nil {
		return "", fmt.Errorf("signing: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether signature is a valid base64 SHA-256 signature of
// payload under publicKey. Malformed keys or signatures return false.
func (s *SignatureService) Verify(publicKey string, payload []byte, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) == 0 {
		return false
	}

	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return false
	}

	return verifyPayload(pub, payload, sig)
}

func signPayload(signer crypto.Signer, data []byte) ([]byte, error) {
	if _, ok := signer.(ed25519.PrivateKey); ok {
		return signer.Sign(rand.Reader, data, crypto.Hash(0))
	}
	digest := sha256.Sum256(data)
	return signer.Sign(rand.Reader, digest[:], crypto.SHA256)
}

func verifyPayload(pub crypto.PublicKey, payload, sig []byte) bool {
	digest := sha256.Sum256(payload)

	switch key := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) == nil
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(key, digest[:], sig)
	case ed25519.PublicKey:
		return ed25519.Verify(key, payload, sig)
	default:
		return false
	}
}

// ParsePublicKey parses an SPKI public key given as PEM ("PUBLIC KEY" or
// "RSA PUBLIC KEY") or as bare base64 DER.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}

	var der []byte
	if strings.HasPrefix(s, "-----BEGIN") {
		block, _ := pem.Decode([]byte(s))
		if block == nil {
			return nil, ErrInvalidKey
		}
		if block.Type == "RSA PUBLIC KEY" {
			key, err := x509.ParsePKCS1PublicKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
			}
			return key, nil
		}
		if block.Type != "PUBLIC KEY" {
			return nil, ErrInvalidKey
		}
		der = block.Bytes
	} else {
		var err error
		der, err = base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, ErrInvalidKey
		}
	}

	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	switch key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return key, nil
	default:
		return nil, ErrInvalidKey
	}
}

// ParsePrivateKey parses a PEM private key (PKCS8, or PKCS1 for RSA).
func ParsePrivateKey(pemBytes []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, ErrInvalidKey
		}
		return signer, nil
	default:
		return nil, ErrInvalidKey
	}
}
