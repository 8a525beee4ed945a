// ABOUTME: Verifies operator requests carrying a session token
// ABOUTME: Bearer header or sessionId query fallback, checked against stored sessions in constant time

package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/gamevault/internal/store"
)

// SessionQueryParam is the query parameter accepted when no Authorization header is sent.
const SessionQueryParam = "sessionId"

// Verdict reasons returned to operators. Unknown and malformed tokens share
// ReasonInvalidSession.
const (
	ReasonMissingSession        = "missing session token"
	ReasonInstanceNotRegistered = "instance not registered"
	ReasonInvalidSession        = "invalid session"
	ReasonInstanceUnavailable   = "instance auth unavailable"
)

// SettingsLookup reads the singleton instance credential record.
type SettingsLookup interface {
	GetInstanceAuthSettings(ctx context.Context) (*store.InstanceAuthSettings, error)
}

// SessionLookup reads operator sessions by id.
type SessionLookup interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
}

// SessionComparer compares session ids in constant time.
type SessionComparer interface {
	CompareSessionIDs(a, b string) bool
}

// InstanceVerdict is the outcome of verifying one operator request.
type InstanceVerdict struct {
	Authorized bool
	Reason     string
	Locked     bool
	SessionID  string // set on success
	RequestID  string
}

// InstanceAuthService authenticates requests made by the operator.
type InstanceAuthService struct {
	settings SettingsLookup
	sessions SessionLookup
	crypto   SessionComparer
	opts     verifierOptions
	logger   *slog.Logger
}

// NewInstanceAuthService creates an InstanceAuthService.
func NewInstanceAuthService(settings SettingsLookup, sessions SessionLookup, crypto SessionComparer, logger *slog.Logger, opts ...VerifierOption) *InstanceAuthService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &InstanceAuthService{
		settings: settings,
		sessions: sessions,
		crypto:   crypto,
		opts:     applyVerifierOptions(ActorInstance, opts),
		logger:   logger.With("component", "instance-auth"),
	}
}

// sessionToken returns the bearer token, falling back to the sessionId query parameter.
func sessionToken(r *http.Request) string {
	if token, errMsg := extractBearerToken(r.Header.Get("Authorization")); errMsg == "" {
		return token
	}
	return r.URL.Query().Get(SessionQueryParam)
}

// Verify decides whether r carries a valid operator session. It never
// returns an error; every outcome is a verdict.
func (s *InstanceAuthService) Verify(ctx context.Context, r *http.Request) InstanceVerdict {
	verdict := InstanceVerdict{RequestID: uuid.New().String()}
	attrs := []any{"request_id", verdict.RequestID, "request", r.Method + " " + r.URL.Path}

	if s.opts.locked(r) {
		verdict.Reason = ReasonLocked
		verdict.Locked = true
		logAuthFailure(s.logger, slog.LevelWarn, r, ReasonLocked, attrs...)
		return verdict
	}

	token := sessionToken(r)
	if token == "" {
		return s.reject(r, verdict, slog.LevelWarn, ReasonMissingSession, attrs...)
	}

	if _, err := s.settings.GetInstanceAuthSettings(ctx); err != nil {
		if errors.Is(err, store.ErrSettingsNotFound) {
			// Not the caller's fault; no failure is charged.
			verdict.Reason = ReasonInstanceNotRegistered
			logAuthFailure(s.logger, slog.LevelWarn, r, ReasonInstanceNotRegistered, attrs...)
			return verdict
		}
		verdict.Reason = ReasonInstanceUnavailable
		logAuthFailure(s.logger, slog.LevelError, r, ReasonInstanceUnavailable, append(attrs, "error", err)...)
		return verdict
	}

	// Tokens with the wrong shape never reach the store.
	if !ValidSessionIDFormat(token) {
		return s.reject(r, verdict, slog.LevelWarn, ReasonInvalidSession, append(attrs, "cause", "malformed")...)
	}

	session, err := s.sessions.GetSession(ctx, token)
	if err != nil {
		if !errors.Is(err, store.ErrSessionNotFound) {
			verdict.Reason = ReasonInstanceUnavailable
			logAuthFailure(s.logger, slog.LevelError, r, ReasonInstanceUnavailable, append(attrs, "error", err)...)
			return verdict
		}
		return s.reject(r, verdict, slog.LevelWarn, ReasonInvalidSession, append(attrs, "cause", "unknown")...)
	}

	if !s.crypto.CompareSessionIDs(session.Id, token) {
		return s.reject(r, verdict, slog.LevelError, ReasonInvalidSession, append(attrs, "cause", "mismatch")...)
	}

	verdict.Authorized = true
	verdict.SessionID = session.Id
	s.logger.Info("instance request authorized", append(attrs, "session", redactSession(session.Id))...)
	return verdict
}

func (s *InstanceAuthService) reject(r *http.Request, v InstanceVerdict, level slog.Level, reason string, attrs ...any) InstanceVerdict {
	v.Authorized = false
	v.Reason = reason
	if s.opts.chargeFailure(r) {
		attrs = append(attrs, "locked", true)
	}
	logAuthFailure(s.logger, level, r, reason, attrs...)
	return v
}

// redactSession keeps a short prefix of a session id for log correlation.
func redactSession(id string) string {
	if len(id) <= 8 {
		return strings.Repeat("*", len(id))
	}
	return id[:8] + "..."
}
