// ABOUTME: Tests for the server key pair lifecycle, signing, and signature verification
// ABOUTME: Uses a file key store on a temp dir and reduced RSA sizes

package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gamevault/internal/keystore"
)

func newTestSignatureService(t *testing.T) (*SignatureService, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "keys")
	svc := NewSignatureService(keystore.NewFileStore(dir, nil), discardLogger(), WithKeyBits(2048))
	require.NoError(t, svc.GenerateKeyPair(context.Background()))
	return svc, dir
}

func TestGenerateKeyPair_Idempotent(t *testing.T) {
	svc, dir := newTestSignatureService(t)

	pub1, err := os.ReadFile(filepath.Join(dir, keystore.PublicKeyFile))
	require.NoError(t, err)
	priv1, err := os.ReadFile(filepath.Join(dir, keystore.PrivateKeyFile))
	require.NoError(t, err)

	require.NoError(t, svc.GenerateKeyPair(context.Background()))

	pub2, err := os.ReadFile(filepath.Join(dir, keystore.PublicKeyFile))
	require.NoError(t, err)
	priv2, err := os.ReadFile(filepath.Join(dir, keystore.PrivateKeyFile))
	require.NoError(t, err)

	assert.Equal(t, pub1, pub2)
	assert.Equal(t, priv1, priv2)
}

func TestGenerateKeyPair_Encodings(t *testing.T) {
	_, dir := newTestSignatureService(t)

	pubPEM, err := os.ReadFile(filepath.Join(dir, keystore.PublicKeyFile))
	require.NoError(t, err)
	block, _ := pem.Decode(pubPEM)
	require.NotNil(t, block)
	assert.Equal(t, "PUBLIC KEY", block.Type)
	_, err = x509.ParsePKIXPublicKey(block.Bytes)
	assert.NoError(t, err)

	privPEM, err := os.ReadFile(filepath.Join(dir, keystore.PrivateKeyFile))
	require.NoError(t, err)
	block, _ = pem.Decode(privPEM)
	require.NotNil(t, block)
	assert.Equal(t, "PRIVATE KEY", block.Type)
	_, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	assert.NoError(t, err)
}

// partialStore reports a half-written pair.
type partialStore struct{ saved bool }

func (p *partialStore) Exists(context.Context) (bool, error) {
	return false, keystore.ErrPartialKeyPair
}
func (p *partialStore) Load(context.Context) ([]byte, []byte, error) {
	return nil, nil, keystore.ErrPartialKeyPair
}
func (p *partialStore) Save(context.Context, []byte, []byte) error {
	p.saved = true
	return nil
}

func TestGenerateKeyPair_RefusesPartialPair(t *testing.T) {
	ks := &partialStore{}
	svc := NewSignatureService(ks, discardLogger(), WithKeyBits(2048))

	err := svc.GenerateKeyPair(context.Background())
	assert.ErrorIs(t, err, keystore.ErrPartialKeyPair)
	assert.False(t, ks.saved)
}

func TestSignAndVerify(t *testing.T) {
	svc, _ := newTestSignatureService(t)
	ctx := context.Background()
	payload := []byte("GET|/api/extension/status|ext-1")

	sig, err := svc.Sign(ctx, payload)
	require.NoError(t, err)

	pub, err := svc.PublicKey(ctx)
	require.NoError(t, err)

	assert.True(t, svc.Verify(pub, payload, sig))
	assert.False(t, svc.Verify(pub, []byte("GET|/api/extension/status|ext-2"), sig))

	_, other := testKeys(t)
	assert.False(t, svc.Verify(publicPEM(t, other), payload, sig), "other key must not verify")
}

func TestVerify_MalformedInputs(t *testing.T) {
	svc := NewSignatureService(nil, nil)
	key, _ := testKeys(t)
	pub := publicPEM(t, key)
	payload := []byte("payload")
	sig := signWith(t, key, "payload")

	assert.True(t, svc.Verify(pub, payload, sig))
	assert.False(t, svc.Verify(pub, payload, "%%%"))
	assert.False(t, svc.Verify(pub, payload, ""))
	assert.False(t, svc.Verify(pub, payload, base64.StdEncoding.EncodeToString([]byte("short"))))
	assert.False(t, svc.Verify("", payload, sig))
	assert.False(t, svc.Verify("-----BEGIN PUBLIC KEY-----\nnope\n-----END PUBLIC KEY-----\n", payload, sig))
	assert.False(t, svc.Verify("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n", payload, sig))
}

func TestVerify_BareBase64DER(t *testing.T) {
	svc := NewSignatureService(nil, nil)
	key, _ := testKeys(t)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	assert.True(t, svc.Verify(base64.StdEncoding.EncodeToString(der), []byte("payload"), signWith(t, key, "payload")))
}

func TestVerify_ECDSAAndEd25519(t *testing.T) {
	svc := NewSignatureService(nil, nil)
	payload := []byte("POST|/api/games|ext-1|abc")

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	digest := sha256.Sum256(payload)
	ecSig, err := ecdsa.SignASN1(rand.Reader, ecKey, digest[:])
	require.NoError(t, err)
	ecDER, err := x509.MarshalPKIXPublicKey(&ecKey.PublicKey)
	require.NoError(t, err)
	ecPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: ecDER}))

	assert.True(t, svc.Verify(ecPEM, payload, base64.StdEncoding.EncodeToString(ecSig)))
	assert.False(t, svc.Verify(ecPEM, []byte("tampered"), base64.StdEncoding.EncodeToString(ecSig)))

	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	edDER, err := x509.MarshalPKIXPublicKey(edPub)
	require.NoError(t, err)
	edPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: edDER}))
	edSig := ed25519.Sign(edPriv, payload)

	assert.True(t, svc.Verify(edPEM, payload, base64.StdEncoding.EncodeToString(edSig)))
}

func TestSign_NoKeyPair(t *testing.T) {
	svc := NewSignatureService(keystore.NewFileStore(t.TempDir(), nil), nil)

	_, err := svc.Sign(context.Background(), []byte("data"))
	assert.True(t, errors.Is(err, keystore.ErrKeyPairNotFound))
}

func TestWithKeyBits_Floor(t *testing.T) {
	svc := NewSignatureService(nil, nil, WithKeyBits(512))
	assert.Equal(t, MinKeyBits, svc.bits)

	svc = NewSignatureService(nil, nil)
	assert.Equal(t, DefaultKeyBits, svc.bits)
}

func TestParsePrivateKey_Invalid(t *testing.T) {
	_, err := ParsePrivateKey([]byte("garbage"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = ParsePrivateKey(pem.EncodeToMemory(&pem.Block{Type: "OPENSSH PRIVATE KEY", Bytes: []byte{1}}))
	assert.ErrorIs(t, err, ErrInvalidKey)
}
