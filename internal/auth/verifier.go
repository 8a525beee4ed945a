// ABOUTME: Options and helpers shared by the extension and instance verifiers
// ABOUTME: Lockout integration, client address extraction, and structured failure logging

package auth

import (
	"log/slog"
	"net"
	"net/http"
)

// DefaultMaxBodyBytes caps how much of an extension request body is read for hashing.
const DefaultMaxBodyBytes int64 = 10 << 20

// ReasonLocked is returned when the client has exhausted its failure budget.
const ReasonLocked = "too many failed attempts"

// FailureLimiter tracks failed verifications per client key.
type FailureLimiter interface {
	Locked(key string) bool
	Fail(key string) bool
}

// VerifierOption configures ExtensionAuthService and InstanceAuthService.
type VerifierOption func(*verifierOptions)

type verifierOptions struct {
	maxBodyBytes int64
	lockout      FailureLimiter
	scope        Actor
}

func defaultVerifierOptions() verifierOptions {
	return verifierOptions{
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

func applyVerifierOptions(scope Actor, opts []VerifierOption) verifierOptions {
	o := defaultVerifierOptions()
	o.scope = scope
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMaxBodyBytes limits how many body bytes are read before hashing.
func WithMaxBodyBytes(n int64) VerifierOption {
	return func(o *verifierOptions) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// WithLockout charges failed verifications to the client address.
func WithLockout(l FailureLimiter) VerifierOption {
	return func(o *verifierOptions) {
		o.lockout = l
	}
}

// ClientKey returns the host part of the request's remote address.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LockoutKey is the failure budget a request is charged to. Extension and
// operator failures from the same host never share a budget.
func LockoutKey(actor Actor, r *http.Request) string {
	return string(actor) + ":" + ClientKey(r)
}

func (o *verifierOptions) locked(r *http.Request) bool {
	return o.lockout != nil && o.lockout.Locked(LockoutKey(o.scope, r))
}

// chargeFailure records a failed attempt and reports whether the client is now locked.
func (o *verifierOptions) chargeFailure(r *http.Request) bool {
	if o.lockout == nil {
		return false
	}
	return o.lockout.Fail(LockoutKey(o.scope, r))
}

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, level slog.Level, r *http.Request, reason string, attrs ...any) {
	baseAttrs := []any{"reason", reason, "peer_addr", r.RemoteAddr}
	baseAttrs = append(baseAttrs, attrs...)
	logger.Log(r.Context(), level, "auth failure", baseAttrs...)
}
