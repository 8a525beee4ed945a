// ABOUTME: HTTP tests for the /api/instance routes
// ABOUTME: Wires the real InstanceMiddleware so login sessions are accepted end to end

package instance

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gamevault/internal/auth"
)

type countingLimiter struct {
	max      int
	failures int
	lastKey  string
}

func (c *countingLimiter) Locked(string) bool { return c.failures >= c.max }

func (c *countingLimiter) Fail(key string) bool {
	c.failures++
	c.lastKey = key
	return c.failures >= c.max
}

func newTestMux(t *testing.T, lockout auth.FailureLimiter) *http.ServeMux {
	t.Helper()
	svc, s := newTestService(t)
	var opts []auth.VerifierOption
	if lockout != nil {
		opts = append(opts, auth.WithLockout(lockout))
	}
	verifier := auth.NewInstanceAuthService(s, s, testCrypto(), nil, opts...)
	mux := http.NewServeMux()
	NewHandlers(svc, lockout, nil).Register(mux, auth.InstanceMiddleware(verifier, svc))
	return mux
}

func call(t *testing.T, mux *http.ServeMux, method, path, session string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, mux *http.ServeMux, password string) string {
	t.Helper()
	rec := call(t, mux, http.MethodPost, "/api/instance/login", "", map[string]string{"password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["session_id"]
}

func TestSetupAndLoginFlow(t *testing.T) {
	mux := newTestMux(t, nil)

	rec := call(t, mux, http.MethodGet, "/api/instance/status", "", nil)
	assert.JSONEq(t, `{"registered":false}`, rec.Body.String())

	rec = call(t, mux, http.MethodPost, "/api/instance/login", "", map[string]string{"password": "correct horse"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, mux, http.MethodPost, "/api/instance/setup", "", map[string]string{"password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, mux, http.MethodPost, "/api/instance/setup", "", map[string]string{"password": "correct horse"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = call(t, mux, http.MethodPost, "/api/instance/setup", "", map[string]string{"password": "correct horse"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, mux, http.MethodGet, "/api/instance/status", "", nil)
	assert.JSONEq(t, `{"registered":true}`, rec.Body.String())

	session := login(t, mux, "correct horse")
	assert.True(t, auth.ValidSessionIDFormat(session))

	rec = call(t, mux, http.MethodPost, "/api/instance/logout", session, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(t, mux, http.MethodPost, "/api/instance/logout", session, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePasswordHandler(t *testing.T) {
	mux := newTestMux(t, nil)
	call(t, mux, http.MethodPost, "/api/instance/setup", "", map[string]string{"password": "correct horse"})
	session := login(t, mux, "correct horse")

	rec := call(t, mux, http.MethodPost, "/api/instance/password", "", map[string]string{"old_password": "correct horse", "new_password": "battery staple"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, mux, http.MethodPost, "/api/instance/password", session, map[string]string{"old_password": "nope nope", "new_password": "battery staple"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, mux, http.MethodPost, "/api/instance/password", session, map[string]string{"old_password": "correct horse", "new_password": "battery staple"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// All sessions were revoked, including this one.
	rec = call(t, mux, http.MethodPost, "/api/instance/logout", session, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	login(t, mux, "battery staple")
}

func TestLoginLockout(t *testing.T) {
	limiter := &countingLimiter{max: 2}
	mux := newTestMux(t, limiter)
	call(t, mux, http.MethodPost, "/api/instance/setup", "", map[string]string{"password": "correct horse"})

	rec := call(t, mux, http.MethodPost, "/api/instance/login", "", map[string]string{"password": "wrong one"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, mux, http.MethodPost, "/api/instance/login", "", map[string]string{"password": "wrong two"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = call(t, mux, http.MethodPost, "/api/instance/login", "", map[string]string{"password": "correct horse"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), auth.ReasonLocked)
}

func TestChangePasswordLockout(t *testing.T) {
	limiter := &countingLimiter{max: 3}
	mux := newTestMux(t, limiter)
	call(t, mux, http.MethodPost, "/api/instance/setup", "", map[string]string{"password": "correct horse"})
	session := login(t, mux, "correct horse")

	change := map[string]string{"old_password": "guess one", "new_password": "battery staple"}
	rec := call(t, mux, http.MethodPost, "/api/instance/password", session, change)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, limiter.failures)
	assert.Equal(t, "instance:192.0.2.1", limiter.lastKey)

	change["old_password"] = "guess two"
	rec = call(t, mux, http.MethodPost, "/api/instance/password", session, change)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	change["old_password"] = "guess three"
	rec = call(t, mux, http.MethodPost, "/api/instance/password", session, change)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// The right old password no longer helps once the budget is spent.
	change["old_password"] = "correct horse"
	rec = call(t, mux, http.MethodPost, "/api/instance/password", session, change)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = call(t, mux, http.MethodPost, "/api/instance/login", "", map[string]string{"password": "correct horse"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSetup_InvalidJSON(t *testing.T) {
	mux := newTestMux(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/instance/setup", bytes.NewBufferString(`{"password":`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
