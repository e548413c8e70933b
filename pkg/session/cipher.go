package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	acerr "github.com/piewared/authcore/pkg/errors"
)

// TokenCipher encrypts refresh tokens at rest with AES-256-GCM so the
// session store never holds them in the clear.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher creates a cipher from a 32-byte key.
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) != 32 {
		return nil, acerr.Validation("token cipher key must be exactly 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, acerr.Wrap(err, acerr.CodeInternal, "failed to initialize cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, acerr.Wrap(err, acerr.CodeInternal, "failed to initialize GCM")
	}
	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals the plaintext with a fresh nonce and returns the
// base64url-encoded nonce-prefixed ciphertext. The empty string encrypts
// to the empty string.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", acerr.Wrap(err, acerr.CodeInternal, "failed to generate nonce")
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or truncated ciphertext fails
// authentication.
func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", acerr.Wrap(err, acerr.CodeInternal, "ciphertext is not valid base64url")
	}
	if len(raw) < c.aead.NonceSize() {
		return "", acerr.New(acerr.CodeInternal, "ciphertext is truncated")
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", acerr.Wrap(err, acerr.CodeInternal, "ciphertext failed authentication")
	}
	return string(plaintext), nil
}
