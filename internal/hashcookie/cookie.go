// ABOUTME: Cookie verification: decrypts the outer layer and cross-checks the inner token
// ABOUTME: Also issues cookies with the same derivation so issuer and verifier cannot drift

package hashcookie

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Cookie errors
var (
	ErrInvalid = errors.New("invalid cookie")
	ErrExpired = errors.New("cookie expired")
)

// authorizationField is the only inner JSON field the verifier reads.
const authorizationField = "dbauth"

// KnownUser is what the verifier needs to know about the expected subject.
type KnownUser struct {
	Subject   string
	HexSecret string
	HexSalt   string
}

// Claim is a verified identity. Authorization is nil when the inner
// payload has no string "dbauth" field.
type Claim struct {
	Expiry        int64
	Subject       string
	Authorization *string
}

// ExpiresAt returns the claim expiry as a time.
func (c *Claim) ExpiresAt() time.Time {
	return time.Unix(c.Expiry, 0)
}

// Authenticator verifies cookies against a known user.
type Authenticator struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator that uses the wall clock.
func NewAuthenticator() *Authenticator {
	return NewAuthenticatorWithClock(time.Now)
}

// NewAuthenticatorWithClock creates an Authenticator with an injected clock.
func NewAuthenticatorWithClock(now func() time.Time) *Authenticator {
	return &Authenticator{
		now:    now,
		logger: slog.Default().With("component", "hashcookie"),
	}
}

// Authenticate verifies raw against user and returns the decrypted claim.
// Every failure except expiry is reported as ErrInvalid.
func (a *Authenticator) Authenticate(raw string, user KnownUser) (*Claim, error) {
	outer, err := Parse(raw)
	if err != nil {
		a.logger.Debug("outer token rejected", "reason", "parse", "error", err)
		return nil, ErrInvalid
	}
	if !outer.HasNonce() {
		a.logger.Debug("outer token rejected", "reason", "no nonce")
		return nil, ErrInvalid
	}
	if outer.Subject != user.Subject {
		a.logger.Debug("outer token rejected", "reason", "subject mismatch")
		return nil, ErrInvalid
	}
	// Checked before derivation so stale cookies cost nothing.
	if outer.Expiry < a.now().Unix() {
		return nil, ErrExpired
	}

	keys, err := DecodeKeyMaterial(user.HexSecret, user.HexSalt)
	if err != nil {
		a.logger.Warn("stored key material unusable", "subject", user.Subject, "error", err)
		return nil, ErrInvalid
	}

	plain := make([]byte, len(outer.Body))
	copy(plain, outer.Body)
	if err := xorKeyStream(keys.cipherKey(), outer.Nonce, plain); err != nil {
		a.logger.Debug("outer token rejected", "reason", "cipher", "error", err)
		return nil, ErrInvalid
	}
	if !utf8.Valid(plain) {
		return nil, ErrInvalid
	}

	inner, err := Parse(string(plain))
	if err != nil {
		return nil, ErrInvalid
	}

	authorization, err := readAuthorization(inner.Body)
	if err != nil {
		return nil, ErrInvalid
	}

	if inner.Expiry != outer.Expiry || inner.Subject != outer.Subject {
		a.logger.Debug("outer token rejected", "reason", "layer mismatch")
		return nil, ErrInvalid
	}

	return &Claim{
		Expiry:        inner.Expiry,
		Subject:       inner.Subject,
		Authorization: authorization,
	}, nil
}

// readAuthorization validates the inner JSON body and extracts "dbauth".
func readAuthorization(body []byte) (*string, error) {
	if !utf8.Valid(body) {
		return nil, errors.New("inner body is not UTF-8")
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("inner body is not JSON")
	}
	field := gjson.GetBytes(body, authorizationField)
	if field.Type != gjson.String {
		return nil, nil
	}
	value := field.String()
	return &value, nil
}

// IssueParams describes a cookie to mint.
type IssueParams struct {
	Subject   string
	Expiry    time.Time
	Body      []byte // inner JSON; "{}" when empty
	HexSecret string
	HexSalt   string
	Nonce     []byte // random when nil
}

// Issue builds a cookie that Authenticate accepts for the same key material.
func Issue(p IssueParams) (string, error) {
	keys, err := DecodeKeyMaterial(p.HexSecret, p.HexSalt)
	if err != nil {
		return "", err
	}

	nonce := p.Nonce
	if nonce == nil {
		nonce = make([]byte, NonceSize)
		if _, err := rand.Read(nonce); err != nil {
			return "", fmt.Errorf("generating nonce: %w", err)
		}
	}

	body := p.Body
	if len(body) == 0 {
		body = []byte("{}")
	}

	exp := p.Expiry.Unix()
	inner := Encode(&Payload{Expiry: exp, Subject: p.Subject, Body: body})

	ciphertext := []byte(inner)
	if err := xorKeyStream(keys.cipherKey(), nonce, ciphertext); err != nil {
		return "", err
	}

	return Encode(&Payload{
		Expiry:  exp,
		Subject: p.Subject,
		Body:    ciphertext,
		Nonce:   nonce,
	}), nil
}
