// ABOUTME: Tests for key derivation and the legacy ChaCha20 keystream
// ABOUTME: Pins both primitives to published test vectors

package hashcookie

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// RFC 7914 section 11, PBKDF2-HMAC-SHA256 with P="passwd", S="salt", c=1.
func TestDeriveKey_Vector(t *testing.T) {
	want := mustHex(t, "55ac046e56e3089fec1691c22544b605f94185216dde0465e68b9d57c20dacbc"+
		"49ca9cccf179b645991664b39d77ef317c71b845b1e30bd509112041d3a19783")

	got := DeriveKey([]byte("passwd"), []byte("salt"), 1, 64)
	assert.Equal(t, want, got)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a := DeriveKey([]byte("secret"), []byte("salt"), KDFIterations, derivedSize)
	b := DeriveKey([]byte("secret"), []byte("salt"), KDFIterations, derivedSize)
	assert.Equal(t, a, b)
	assert.Len(t, a, 48)

	// A longer output shares the prefix of a shorter one.
	short := DeriveKey([]byte("secret"), []byte("salt"), 3, 16)
	long := DeriveKey([]byte("secret"), []byte("salt"), 3, 48)
	assert.Equal(t, short, long[:16])
}

func TestCipherKey_DropsPrefix(t *testing.T) {
	m := KeyMaterial{Secret: []byte("s3cret"), Salt: []byte("pepper")}
	full := DeriveKey(m.Secret, m.Salt, KDFIterations, derivedSize)

	key := m.cipherKey()
	assert.Len(t, key, KeySize)
	assert.Equal(t, full[16:], key)
}

// Original ChaCha20 (64-bit nonce) with an all-zero key and nonce.
func TestXORKeyStream_ZeroVector(t *testing.T) {
	want := mustHex(t, "76b8e0ada0f13d90405d6ae55386bd28bdd219b8a08ded1aa836efcc8b770dc7"+
		"da41597c5157488d7724e03fb8d84a376a43b8f41518a11cc387b669b2ee6586")

	buf := make([]byte, 64)
	require.NoError(t, xorKeyStream(make([]byte, KeySize), make([]byte, NonceSize), buf))
	assert.Equal(t, want, buf)
}

func TestXORKeyStream_Involution(t *testing.T) {
	key := DeriveKey([]byte("k"), []byte("s"), 2, KeySize)
	nonce := []byte("nonce-08")
	msg := []byte("1711663072.d2ViYWRtaW4=.e30=")

	buf := append([]byte(nil), msg...)
	require.NoError(t, xorKeyStream(key, nonce, buf))
	assert.NotEqual(t, msg, buf)
	require.NoError(t, xorKeyStream(key, nonce, buf))
	assert.Equal(t, msg, buf)
}

func TestXORKeyStream_NonceLength(t *testing.T) {
	key := make([]byte, KeySize)
	for _, n := range []int{0, 7, 9, 12, 24} {
		err := xorKeyStream(key, make([]byte, n), make([]byte, 4))
		assert.Error(t, err, "nonce length %d should be rejected", n)
	}
}

func TestDecodeKeyMaterial(t *testing.T) {
	m, err := DecodeKeyMaterial("00ff", "abcd")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff}, m.Secret)
	assert.Equal(t, []byte{0xab, 0xcd}, m.Salt)

	_, err = DecodeKeyMaterial("zz", "abcd")
	assert.Error(t, err)
	_, err = DecodeKeyMaterial("00", "abc")
	assert.Error(t, err)
}
