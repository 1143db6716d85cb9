// Package vault encrypts payment provider secrets at rest.
//
// Secrets are sealed with AES-256-GCM under a key derived from the process
// secret with HKDF-SHA256. Sealed values are encoded as
//
//	v1:<base64(nonce || ciphertext || tag)>
//
// Decryption fails closed: Reveal reports false on any error, including a
// value sealed under a rotated key, and never returns partial plaintext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the shortest process secret accepted.
const MinSecretLength = 32

const (
	prefixV1 = "v1:"
	hkdfInfo = "billflow/credentials/v1"
)

var hkdfSalt = []byte("billflow-vault")

var (
	ErrSecretTooShort = errors.New("vault: secret must be at least 32 bytes")
	ErrDecrypt        = errors.New("vault: unable to decrypt value")
)

// Vault seals and opens credential values.
type Vault struct {
	aead        cipher.AEAD
	fingerprint string
}

// New derives the data key from secret.
func New(secret string) (*Vault, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), hkdfSalt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm: %w", err)
	}

	sum := sha256.Sum256(key)
	return &Vault{aead: aead, fingerprint: hex.EncodeToString(sum[:4])}, nil
}

// Fingerprint identifies the active key in logs without revealing it.
func (v *Vault) Fingerprint() string {
	return v.fingerprint
}

// Encrypt seals plaintext. Empty input stays empty so optional credential
// fields do not turn into ciphertext of nothing.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefixV1 + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Every failure is reported as
// ErrDecrypt.
func (v *Vault) Decrypt(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	body, ok := strings.CutPrefix(sealed, prefixV1)
	if !ok {
		return "", ErrDecrypt
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", ErrDecrypt
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns+v.aead.Overhead() {
		return "", ErrDecrypt
	}
	plain, err := v.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// Reveal is Decrypt for callers that only need to know whether the value is
// usable.
func (v *Vault) Reveal(sealed string) (string, bool) {
	plain, err := v.Decrypt(sealed)
	if err != nil {
		return "", false
	}
	return plain, true
}
