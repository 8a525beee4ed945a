// ABOUTME: Authentication context for tracking the verified actor through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating extension or operator identity via context

package auth

import (
	"context"
)

// Actor identifies which kind of caller was authenticated.
type Actor string

const (
	ActorExtension Actor = "extension"
	ActorInstance  Actor = "instance"
)

// AuthContext holds the identity established by ExtensionAuthService or
// InstanceAuthService. Handlers read it from the request context.
type AuthContext struct {
	Actor          Actor
	ExtensionID    string // set for ActorExtension
	RegistrationID int64  // set for ActorExtension
	SessionID      string // set for ActorInstance
	RequestID      string
}

// IsInstance returns true if the caller is the authenticated operator.
func (a *AuthContext) IsInstance() bool {
	return a.Actor == ActorInstance
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
