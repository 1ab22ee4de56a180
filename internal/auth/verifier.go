// ABOUTME: Cookie verification pipeline: peek subject, fetch key material, authenticate
// ABOUTME: Verified claims are cached so repeat requests skip key derivation

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/mirmod/internal/claimcache"
	"github.com/2389/mirmod/internal/directory"
	"github.com/2389/mirmod/internal/hashcookie"
)

// CookieVerifier turns a raw cookie into an AuthContext.
type CookieVerifier struct {
	users  directory.Directory
	authn  *hashcookie.Authenticator
	cache  *claimcache.Cache
	logger *slog.Logger
}

// NewCookieVerifier creates a verifier. cache may be nil to verify every
// cookie from scratch.
func NewCookieVerifier(users directory.Directory, authn *hashcookie.Authenticator, cache *claimcache.Cache) *CookieVerifier {
	return &CookieVerifier{
		users:  users,
		authn:  authn,
		cache:  cache,
		logger: slog.Default().With("component", "auth"),
	}
}

// Verify checks raw and describes who it belongs to.
//
// Malformed cookies, unknown subjects and failed decryption all return
// hashcookie.ErrInvalid; an expired cookie returns hashcookie.ErrExpired.
// Directory failures other than not-found are returned wrapped.
func (v *CookieVerifier) Verify(ctx context.Context, raw string) (*AuthContext, error) {
	subject, err := hashcookie.Peek(raw)
	if err != nil {
		return nil, hashcookie.ErrInvalid
	}

	user, err := v.users.LookupBySubjectOrEmail(ctx, subject)
	if errors.Is(err, directory.ErrNotFound) {
		v.logger.Debug("cookie for unknown subject", "subject", subject)
		return nil, hashcookie.ErrInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("looking up cookie subject: %w", err)
	}

	known := user.KnownUser()
	var key string
	if v.cache != nil {
		key = claimcache.Key(raw, known)
		if claim, ok := v.cache.Get(key); ok {
			return newAuthContext(claim, user), nil
		}
	}

	claim, err := v.authn.Authenticate(raw, known)
	if err != nil {
		return nil, err
	}
	if v.cache != nil {
		v.cache.Put(key, claim)
	}

	v.logger.Debug("cookie verified", "subject", claim.Subject, "user_id", user.ID)
	return newAuthContext(claim, user), nil
}

func newAuthContext(claim *hashcookie.Claim, user *directory.User) *AuthContext {
	return &AuthContext{
		Subject:        claim.Subject,
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		Authorization:  claim.Authorization,
		ExpiresAt:      claim.ExpiresAt(),
	}
}
