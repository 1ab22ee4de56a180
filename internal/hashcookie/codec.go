// ABOUTME: Dot-delimited token framing shared by the outer and inner cookie layers
// ABOUTME: Parse/Encode convert between raw token strings and Payload values

package hashcookie

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrMalformed is returned (wrapped in a *ParseError) when a token's framing is invalid.
var ErrMalformed = errors.New("malformed token")

// fieldEncoding is the padded URL-safe alphabet already-issued tokens use,
// with non-zero trailing bits rejected.
var fieldEncoding = base64.URLEncoding.Strict()

// ParseError describes which field of a token could not be decoded.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrMalformed, e.Field)
	}
	return fmt.Sprintf("%s: %s: %v", ErrMalformed, e.Field, e.Err)
}

// Unwrap lets errors.Is match both ErrMalformed and the underlying cause.
func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformed}
	}
	return []error{ErrMalformed, e.Err}
}

// Payload is the decoded form of one token layer.
// A nil Nonce marks the three-field form.
type Payload struct {
	Expiry  int64
	Subject string
	Body    []byte
	Nonce   []byte
}

// HasNonce reports whether the payload came from a four-field token.
func (p *Payload) HasNonce() bool {
	return p.Nonce != nil
}

// Parse decodes a raw token into a Payload.
// Exactly three or four fields are accepted.
func Parse(raw string) (*Payload, error) {
	parts := strings.Split(raw, ".")
	if len(parts) < 3 || len(parts) > 4 {
		return nil, &ParseError{Field: fmt.Sprintf("expected 3 or 4 fields, got %d", len(parts))}
	}

	exp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, &ParseError{Field: "expiry", Err: err}
	}

	subject, err := fieldEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, &ParseError{Field: "subject", Err: err}
	}
	if !utf8.Valid(subject) {
		return nil, &ParseError{Field: "subject", Err: errors.New("not valid UTF-8")}
	}

	body, err := fieldEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, &ParseError{Field: "body", Err: err}
	}

	p := &Payload{
		Expiry:  exp,
		Subject: string(subject),
		Body:    body,
	}
	if len(parts) == 3 {
		return p, nil
	}

	nonce, err := fieldEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, &ParseError{Field: "nonce", Err: err}
	}
	// An empty nonce field still marks the four-field form.
	if nonce == nil {
		nonce = []byte{}
	}
	p.Nonce = nonce
	return p, nil
}

// Encode renders the payload back into its raw token form. The nonce
// field is emitted only when HasNonce is true.
func Encode(p *Payload) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(p.Expiry, 10))
	b.WriteByte('.')
	b.WriteString(fieldEncoding.EncodeToString([]byte(p.Subject)))
	b.WriteByte('.')
	b.WriteString(fieldEncoding.EncodeToString(p.Body))
	if p.HasNonce() {
		b.WriteByte('.')
		b.WriteString(fieldEncoding.EncodeToString(p.Nonce))
	}
	return b.String()
}

// Peek returns the outer subject of a raw token without verifying it.
// Callers use it to fetch key material before calling Authenticate.
func Peek(raw string) (string, error) {
	p, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return p.Subject, nil
}
