package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNew_RejectsShortSecret(t *testing.T) {
	_, err := New("short")
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v, err := New(testSecret)
	require.NoError(t, err)

	sealed, err := v.Encrypt("sk_live_abc123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1:"))
	assert.NotContains(t, sealed, "sk_live_abc123")

	plain, err := v.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk_live_abc123", plain)
}

func TestEncrypt_NonceIsFresh(t *testing.T) {
	v, err := New(testSecret)
	require.NoError(t, err)

	a, _ := v.Encrypt("same")
	b, _ := v.Encrypt("same")
	assert.NotEqual(t, a, b)
}

func TestEncrypt_EmptyStaysEmpty(t *testing.T) {
	v, err := New(testSecret)
	require.NoError(t, err)

	sealed, err := v.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, sealed)

	plain, ok := v.Reveal("")
	assert.True(t, ok)
	assert.Empty(t, plain)
}

func TestDecrypt_RotatedKeyFailsClosed(t *testing.T) {
	old, err := New(testSecret)
	require.NoError(t, err)
	rotated, err := New(testSecret + "-rotated")
	require.NoError(t, err)
	assert.NotEqual(t, old.Fingerprint(), rotated.Fingerprint())

	sealed, err := old.Encrypt("sk_test_1")
	require.NoError(t, err)

	plain, err := rotated.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
	assert.Empty(t, plain)

	plain, ok := rotated.Reveal(sealed)
	assert.False(t, ok)
	assert.Empty(t, plain)
}

func TestDecrypt_Malformed(t *testing.T) {
	v, err := New(testSecret)
	require.NoError(t, err)

	cases := []string{
		"plaintext-secret",
		"v1:not-base64!!",
		"v1:AAAA",
		"v2:" + strings.Repeat("A", 64),
	}
	for _, c := range cases {
		_, err := v.Decrypt(c)
		assert.ErrorIs(t, err, ErrDecrypt, c)
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	v, err := New(testSecret)
	require.NoError(t, err)

	sealed, err := v.Encrypt("client-secret")
	require.NoError(t, err)

	b := []byte(sealed)
	last := len(b) - 3
	if b[last] == 'A' {
		b[last] = 'B'
	} else {
		b[last] = 'A'
	}
	_, ok := v.Reveal(string(b))
	assert.False(t, ok)
}
