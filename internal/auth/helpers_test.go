// ABOUTME: Shared fixtures for auth tests: extension key pairs, fake stores, signed requests
// ABOUTME: Keys are generated once per test binary to keep RSA generation cost down

package auth

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/gamevault/internal/store"
)

var (
	extensionKeyOnce sync.Once
	extensionKey     *rsa.PrivateKey
	otherKey         *rsa.PrivateKey
)

// testKeys returns two distinct 2048-bit RSA keys shared across tests.
func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	extensionKeyOnce.Do(func() {
		var err error
		extensionKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		otherKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return extensionKey, otherKey
}

func publicPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func signWith(t *testing.T, key *rsa.PrivateKey, message string) string {
	t.Helper()
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRegistrations is a RegistrationLookup backed by a map.
type fakeRegistrations struct {
	mu    sync.Mutex
	recs  map[int64]*store.RegistrationRecord
	err   error
	calls int
}

func newFakeRegistrations() *fakeRegistrations {
	return &fakeRegistrations{recs: make(map[int64]*store.RegistrationRecord)}
}

func (f *fakeRegistrations) add(id int64, extensionID, pub, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	f.recs[id] = &store.RegistrationRecord{
		Id: id, ExtensionId: extensionID, PublicKey: pub, Status: status, CreatedAt: now, LastUpdatedAt: now,
	}
}

func (f *fakeRegistrations) setStatus(id int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[id].Status = status
}

func (f *fakeRegistrations) GetRegistration(_ context.Context, id int64) (*store.RegistrationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.recs[id]
	if !ok {
		return nil, store.ErrRegistrationNotFound
	}
	cp := *rec
	return &cp, nil
}

// fakeLimiter counts failures and reports locked once the budget is spent.
type fakeLimiter struct {
	max      int
	failures map[string]int
}

func newFakeLimiter(max int) *fakeLimiter {
	return &fakeLimiter{max: max, failures: make(map[string]int)}
}

func (f *fakeLimiter) Locked(key string) bool { return f.failures[key] >= f.max }

func (f *fakeLimiter) Fail(key string) bool {
	f.failures[key]++
	return f.failures[key] >= f.max
}

// signedRequest builds an extension request signed with key.
type signedRequest struct {
	method         string
	path           string
	body           []byte
	contentType    string
	extensionID    string
	registrationID int64
	key            *rsa.PrivateKey
	// hashOverride replaces the computed content hash when non-empty.
	hashOverride string
}

func (s signedRequest) build(t *testing.T) *http.Request {
	t.Helper()

	var body io.Reader
	if s.body != nil {
		body = bytes.NewReader(s.body)
	}
	r := httptest.NewRequest(s.method, s.path, body)
	r.RemoteAddr = "192.0.2.10:49152"

	hash := ""
	if s.body != nil {
		hash = ContentHash(s.body)
	}
	if s.hashOverride != "" {
		hash = s.hashOverride
	}

	if s.contentType != "" {
		r.Header.Set("Content-Type", s.contentType)
	}
	r.Header.Set(HeaderExtensionID, s.extensionID)
	if s.registrationID != 0 {
		r.Header.Set(HeaderRegistrationID, strconv.FormatInt(s.registrationID, 10))
	}
	if hash != "" {
		r.Header.Set(HeaderContentHash, hash)
	}
	r.Header.Set(HeaderSignature, signWith(t, s.key, CanonicalString(s.method, s.path, s.extensionID, hash)))
	return r
}
