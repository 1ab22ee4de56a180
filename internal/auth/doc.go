// Package auth authenticates HTTP requests carrying a mirmod session cookie.
//
// # Verification
//
// CookieVerifier runs the full pipeline for one raw cookie:
//
//  1. Read the outer subject without trusting it (hashcookie.Peek)
//  2. Fetch the subject's key material from the user directory
//  3. Serve a cached claim, or run hashcookie.Authenticator and cache the result
//  4. Build an AuthContext from the claim and the directory record
//
// The directory is consulted on every request, so a removed user stops
// verifying immediately even while their claim is cached.
//
// # HTTP Middleware
//
//	verifier := auth.NewCookieVerifier(users, hashcookie.NewAuthenticator(), cache)
//	mux.Handle("/api/", auth.HTTPAuthMiddleware(verifier, "")(api))
//
// The middleware reads the session cookie (DefaultCookieName unless
// configured) and falls back to an "Authorization: Bearer <cookie>"
// header. Handlers retrieve the identity with FromContext.
//
// RequireAuthorizationHTTP additionally rejects cookies that carry no
// "dbauth" grant. OptionalAuthMiddleware lets anonymous requests through.
package auth
