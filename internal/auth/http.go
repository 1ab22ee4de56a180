// ABOUTME: HTTP middleware for cookie authentication
// ABOUTME: Reads the session cookie or a bearer token and adds the AuthContext to the request

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/2389/mirmod/internal/hashcookie"
)

// DefaultCookieName is the cookie the middleware reads when none is configured.
const DefaultCookieName = "mirmod_session"

// Verifier is what the middleware needs from a CookieVerifier.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*AuthContext, error)
}

// extractToken returns the raw cookie from the named cookie, falling back
// to an Authorization bearer token. Returns the token and an error
// message (empty if successful).
func extractToken(r *http.Request, cookieName string) (string, string) {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, ""
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "missing session cookie"
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

// verifyError maps a verification failure to a status and message.
func verifyError(err error) (int, string) {
	switch {
	case errors.Is(err, hashcookie.ErrExpired):
		return http.StatusUnauthorized, "cookie expired"
	case errors.Is(err, hashcookie.ErrInvalid):
		return http.StatusUnauthorized, "invalid cookie"
	default:
		return http.StatusInternalServerError, "authentication unavailable"
	}
}

// HTTPAuthMiddleware rejects requests without a valid cookie and adds
// the AuthContext to the request context of those that have one.
func HTTPAuthMiddleware(verifier Verifier, cookieName string) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractToken(r, cookieName)
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			authCtx, err := verifier.Verify(r.Context(), token)
			if err != nil {
				status, msg := verifyError(err)
				http.Error(w, `{"error":"`+msg+`"}`, status)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireAuthorizationHTTP rejects requests whose cookie carried no
// database authorization. Must be used after HTTPAuthMiddleware.
func RequireAuthorizationHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
				return
			}

			if !authCtx.HasAuthorization() {
				http.Error(w, `{"error":"database authorization required"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OptionalAuthMiddleware attaches an AuthContext when the request carries
// a valid cookie and lets every other request through anonymously.
func OptionalAuthMiddleware(verifier Verifier, cookieName string) func(http.Handler) http.Handler {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractToken(r, cookieName)
			if errMsg != "" {
				next.ServeHTTP(w, r)
				return
			}

			authCtx, err := verifier.Verify(r.Context(), token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
