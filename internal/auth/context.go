// ABOUTME: Authentication context for tracking a verified cookie through request handlers
// ABOUTME: Carries the verified identity on context.Context between middleware and handlers

package auth

import (
	"context"
	"time"
)

// AuthContext holds the identity a verified cookie established.
type AuthContext struct {
	Subject        string    // username the cookie was issued to
	UserID         int32     // directory id of the subject
	OrganizationID int32     // directory organization of the subject
	Authorization  *string   // "dbauth" from the cookie, nil when absent
	ExpiresAt      time.Time // cookie expiry
}

// HasAuthorization reports whether the cookie carried a database authorization.
func (a *AuthContext) HasAuthorization() bool {
	return a.Authorization != nil
}

// authContextKey keys the AuthContext value.
type authContextKey struct{}

// WithAuth attaches auth to ctx.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext returns the AuthContext on ctx, or nil.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// MustFromContext is FromContext for handlers mounted behind HTTPAuthMiddleware.
// It panics when no AuthContext is present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: no verified cookie on context")
	}
	return auth
}
