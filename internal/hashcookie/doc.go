// Package hashcookie implements the layered cookie token used to prove a
// caller's identity to mirmod.
//
// # Wire Format
//
// A token is four dot-separated fields:
//
//	<expiry>.<b64url(subject)>.<b64url(ciphertext)>.<b64url(nonce)>
//
// The ciphertext decrypts to another token of the three-field form
//
//	<expiry>.<b64url(subject)>.<b64url(json)>
//
// whose JSON body may carry a "dbauth" string. Fields use the padded
// URL-safe base64 alphabet.
//
// # Key Derivation
//
// Keys come from the per-user secret and salt stored hex-encoded in the
// user directory:
//
//	stream := DeriveKey(secret, salt, 10000, 48)  // PBKDF2-HMAC-SHA256
//	key    := stream[16:48]
//
// The leading 16 bytes are derived and discarded. The cipher is ChaCha20
// with the original 64-bit nonce.
//
// # Integrity
//
// There is no MAC. The inner expiry and subject must match the outer
// ones; that redundancy is the only tamper check the format has.
//
// # Errors
//
//   - ErrMalformed: token framing could not be parsed (wrapped in *ParseError)
//   - ErrInvalid: any verification failure other than expiry
//   - ErrExpired: the outer expiry is in the past
//
// Usage:
//
//	a := hashcookie.NewAuthenticator()
//	claim, err := a.Authenticate(raw, user.KnownUser())
package hashcookie
