// ABOUTME: HTTP middleware wrapping the extension and instance verifiers
// ABOUTME: Maps verdicts to 401/429 JSON errors and adds the AuthContext on success

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// writeAuthError writes {"error": reason} with the given status.
func writeAuthError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}

func rejectStatus(locked bool) int {
	if locked {
		return http.StatusTooManyRequests
	}
	return http.StatusUnauthorized
}

// ExtensionMiddleware authenticates extension requests. On success the
// consumed body is put back on the request so handlers can decode it.
func ExtensionMiddleware(svc *ExtensionAuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verdict := svc.Verify(r.Context(), r)
			if !verdict.Authorized {
				if verdict.Reason == ReasonRequestCancelled {
					return
				}
				writeAuthError(w, rejectStatus(verdict.Locked), verdict.Reason)
				return
			}

			RestoreBody(r, verdict)
			authCtx := &AuthContext{
				Actor:          ActorExtension,
				ExtensionID:    verdict.Registration.ExtensionID(),
				RegistrationID: verdict.Registration.MustID(),
				RequestID:      verdict.RequestID,
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// SessionToucher records operator activity on a session.
type SessionToucher interface {
	Touch(ctx context.Context, sessionID string) error
}

// InstanceMiddleware authenticates operator requests. toucher may be nil.
func InstanceMiddleware(svc *InstanceAuthService, toucher SessionToucher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verdict := svc.Verify(r.Context(), r)
			if !verdict.Authorized {
				writeAuthError(w, rejectStatus(verdict.Locked), verdict.Reason)
				return
			}

			if toucher != nil {
				if err := toucher.Touch(r.Context(), verdict.SessionID); err != nil {
					svc.logger.Warn("failed to touch session", "request_id", verdict.RequestID, "error", err)
				}
			}

			authCtx := &AuthContext{
				Actor:     ActorInstance,
				SessionID: verdict.SessionID,
				RequestID: verdict.RequestID,
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireInstanceHTTP rejects requests whose AuthContext is not the operator.
// Must be used after InstanceMiddleware.
func RequireInstanceHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				writeAuthError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !authCtx.IsInstance() {
				writeAuthError(w, http.StatusForbidden, "operator session required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
