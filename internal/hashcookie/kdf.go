// ABOUTME: PBKDF2 key derivation and ChaCha20 keystream shared by issuer and verifier
// ABOUTME: Keeps the 48-byte derivation and 64-bit nonce cipher in one place

package hashcookie

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KDFIterations is the PBKDF2 iteration count used by issued cookies.
	KDFIterations = 10000

	// discardSize is the length of the derived prefix that is thrown away.
	discardSize = 16

	// KeySize is the ChaCha20 key length.
	KeySize = 32

	// derivedSize is the full PBKDF2 output length.
	derivedSize = discardSize + KeySize

	// NonceSize is the length of the legacy ChaCha20 nonce carried in the token.
	NonceSize = 8
)

// KeyMaterial is the decoded secret and salt for one subject.
type KeyMaterial struct {
	Secret []byte
	Salt   []byte
}

// DecodeKeyMaterial hex-decodes a directory secret and salt.
func DecodeKeyMaterial(hexSecret, hexSalt string) (KeyMaterial, error) {
	secret, err := hex.DecodeString(hexSecret)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("decoding secret: %w", err)
	}
	salt, err := hex.DecodeString(hexSalt)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("decoding salt: %w", err)
	}
	return KeyMaterial{Secret: secret, Salt: salt}, nil
}

// DeriveKey runs PBKDF2-HMAC-SHA256 over secret and salt. It is a pure
// function of its inputs.
func DeriveKey(secret, salt []byte, iterations, length int) []byte {
	return pbkdf2.Key(secret, salt, iterations, length, sha256.New)
}

// cipherKey derives the stream cipher key for a subject's key material.
func (m KeyMaterial) cipherKey() []byte {
	return DeriveKey(m.Secret, m.Salt, KDFIterations, derivedSize)[discardSize:]
}

// xorKeyStream applies the legacy ChaCha20 keystream to buf in place.
//
// The legacy variant uses a 64-bit block counter followed by a 64-bit
// nonce. Prefixing the nonce with four zero bytes makes the IETF state
// identical for the first 2^32 blocks, which covers any cookie.
func xorKeyStream(key, nonce, buf []byte) error {
	if len(nonce) != NonceSize {
		return fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	var ietfNonce [chacha20.NonceSize]byte
	copy(ietfNonce[chacha20.NonceSize-NonceSize:], nonce)

	c, err := chacha20.NewUnauthenticatedCipher(key, ietfNonce[:])
	if err != nil {
		return err
	}
	c.XORKeyStream(buf, buf)
	return nil
}
