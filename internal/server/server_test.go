// ABOUTME: End-to-end tests for the assembled gamevault server
// ABOUTME: Drives operator setup, extension registration, approval, and signed requests over HTTP

package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gamevault/internal/auth"
	"github.com/2389/gamevault/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Keys.Bits = 2048
	cfg.Auth.Lockout.MaxFailures = 10
	cfg.Auth.Lockout.Window = time.Minute
	cfg.Database.Path = filepath.Join(dir, "gamevault.db")
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	return newTestServerWithConfig(t, testConfig(t))
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return srv, ts
}

type extension struct {
	id   string
	pub  string
	priv ed25519.PrivateKey
}

func newExtension(t *testing.T, id string) extension {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return extension{
		id:   id,
		pub:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
		priv: priv,
	}
}

func (e extension) request(t *testing.T, base, method, path string, registrationID int64, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, base+path, bytes.NewReader(body))
	require.NoError(t, err)

	var hash string
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		hash = auth.ContentHash(body)
		req.Header.Set(auth.HeaderContentHash, hash)
	}
	canonical := auth.CanonicalString(method, path, e.id, hash)
	req.Header.Set(auth.HeaderExtensionID, e.id)
	req.Header.Set(auth.HeaderRegistrationID, strconv.FormatInt(registrationID, 10))
	req.Header.Set(auth.HeaderSignature, base64.StdEncoding.EncodeToString(ed25519.Sign(e.priv, []byte(canonical))))
	return req
}

func doJSON(t *testing.T, method, url, session string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegistrationLifecycle(t *testing.T) {
	srv, ts := newTestServer(t)
	ext := newExtension(t, "ext-desk")

	// Operator sets up and logs in.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/instance/setup", "", map[string]string{"password": "correct horse"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/instance/login", "", map[string]string{"password": "correct horse"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := body["session_id"].(string)

	// Extension requests registration; the response is signed by the server key.
	reqBody, err := json.Marshal(map[string]string{"extensionId": ext.id, "publicKey": ext.pub})
	require.NoError(t, err)
	httpResp, err := http.Post(ts.URL+"/api/extension/registrations", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	respBytes, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	_ = httpResp.Body.Close()
	require.Equal(t, http.StatusCreated, httpResp.StatusCode)

	serverKey, err := srv.signatures.PublicKey(context.Background())
	require.NoError(t, err)
	assert.True(t, srv.signatures.Verify(serverKey, respBytes, httpResp.Header.Get(auth.HeaderSignature)))

	var created struct {
		Registration struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"registration"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &created))
	require.Equal(t, "pending", created.Registration.Status)
	regID := created.Registration.ID

	// Pending registrations are not trusted.
	statusReq := ext.request(t, ts.URL, http.MethodGet, "/api/extension/status", regID, nil)
	httpResp, err = http.DefaultClient.Do(statusReq)
	require.NoError(t, err)
	_ = httpResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, httpResp.StatusCode)

	// Management endpoints need a session.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/extension/registrations/"+strconv.FormatInt(regID, 10)+"/approve", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/extension/registrations/"+strconv.FormatInt(regID, 10)+"/approve", session, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	// Approving twice is refused and leaves the registration trusted.
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/extension/registrations/"+strconv.FormatInt(regID, 10)+"/approve", session, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_operation", body["reason_code"])

	// Now signed requests succeed.
	statusReq = ext.request(t, ts.URL, http.MethodGet, "/api/extension/status", regID, nil)
	resp2, err := http.DefaultClient.Do(statusReq)
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&status))
	_ = resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "ext-desk", status["extension_id"])

	// Revoke cuts the extension off on the very next request.
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/extension/registrations/"+strconv.FormatInt(regID, 10)+"/revoke", session, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	statusReq = ext.request(t, ts.URL, http.MethodGet, "/api/extension/status", regID, nil)
	httpResp, err = http.DefaultClient.Do(statusReq)
	require.NoError(t, err)
	_ = httpResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, httpResp.StatusCode)

	// The audit log recorded each transition.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/audit?target_type=registration", session, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["entries"], 3)
}

// setUpOperator creates the operator password and returns a fresh session.
func setUpOperator(t *testing.T, base string) string {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, base+"/api/instance/setup", "", map[string]string{"password": "correct horse"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body := doJSON(t, http.MethodPost, base+"/api/instance/login", "", map[string]string{"password": "correct horse"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body["session_id"].(string)
}

// registerExtension submits a registration request and returns its id.
func registerExtension(t *testing.T, base string, ext extension) int64 {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/api/extension/registrations", "",
		map[string]string{"extensionId": ext.id, "publicKey": ext.pub})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	reg := body["registration"].(map[string]any)
	return int64(reg["id"].(float64))
}

func sendStatus(t *testing.T, base string, ext extension, regID int64) int {
	t.Helper()
	resp, err := http.DefaultClient.Do(ext.request(t, base, http.MethodGet, "/api/extension/status", regID, nil))
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestExtensionLockout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Lockout.MaxFailures = 3
	_, ts := newTestServerWithConfig(t, cfg)
	session := setUpOperator(t, ts.URL)

	ext := newExtension(t, "ext-desk")
	regID := registerExtension(t, ts.URL, ext)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/extension/registrations/"+strconv.FormatInt(regID, 10)+"/approve", session, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Same extension id, wrong key: every request is a bad signature.
	impostor := newExtension(t, "ext-desk")

	var codes []int
	for range 4 {
		codes = append(codes, sendStatus(t, ts.URL, impostor, regID))
	}
	assert.Equal(t, []int{401, 401, 401, 429}, codes)

	// The genuine extension shares the host and is locked with it.
	assert.Equal(t, http.StatusTooManyRequests, sendStatus(t, ts.URL, ext, regID))

	// The operator budget is separate.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/extension/registrations", session, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/instance/login", "", map[string]string{"password": "correct horse"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPendingPollsDoNotLockOutOperator(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Lockout.MaxFailures = 3
	_, ts := newTestServerWithConfig(t, cfg)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/instance/setup", "", map[string]string{"password": "correct horse"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ext := newExtension(t, "ext-desk")
	regID := registerExtension(t, ts.URL, ext)

	// A pending extension polls well past the failure budget.
	for i := range 12 {
		assert.Equal(t, http.StatusUnauthorized, sendStatus(t, ts.URL, ext, regID), "poll %d", i)
	}

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/instance/login", "", map[string]string{"password": "correct horse"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	session := body["session_id"].(string)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/extension/registrations/"+strconv.FormatInt(regID, 10)+"/approve", session, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	// The extension was never locked, so approval takes effect on the next poll.
	assert.Equal(t, http.StatusOK, sendStatus(t, ts.URL, ext, regID))
}

func TestOperatorFailuresDoNotLockOutExtensions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Lockout.MaxFailures = 3
	_, ts := newTestServerWithConfig(t, cfg)
	session := setUpOperator(t, ts.URL)

	ext := newExtension(t, "ext-desk")
	regID := registerExtension(t, ts.URL, ext)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/extension/registrations/"+strconv.FormatInt(regID, 10)+"/approve", session, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for range 4 {
		doJSON(t, http.MethodPost, ts.URL+"/api/instance/login", "", map[string]string{"password": "wrong password"})
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/instance/login", "", map[string]string{"password": "correct horse"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	assert.Equal(t, http.StatusOK, sendStatus(t, ts.URL, ext, regID))
}

func TestServerKeyEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/extension/server-key", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := auth.ParsePublicKey(body["public_key"].(string))
	assert.NoError(t, err)
}

func TestNew_ReusesKeyPair(t *testing.T) {
	cfg := testConfig(t)

	first, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	key1, err := first.signatures.PublicKey(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(context.Background()))

	second, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer func() { _ = second.Shutdown(context.Background()) }()
	key2, err := second.signatures.PublicKey(context.Background())
	require.NoError(t, err)

	assert.Equal(t, key1, key2)
}

func TestRunAndShutdown(t *testing.T) {
	srv, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
