// Package aead implements the opaque AEAD primitive collaborator:
// encrypt/decrypt under a key and a nonce, with a fixed 16-byte tag. The
// default implementation uses chacha20poly1305, since the nonce here is
// a monotonically increasing counter rather than a random value and
// chacha20poly1305's 12-byte nonce maps directly onto that counter.
package aead

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// TagSize is the fixed authentication tag length.
const TagSize = 16

// AuthError indicates decrypt failed integrity verification.
type AuthError struct{ Err error }

func (e *AuthError) Error() string { return fmt.Sprintf("aead: authentication failed: %v", e.Err) }

// AEAD is the opaque AEAD collaborator contract.
type AEAD interface {
	Encrypt(plaintext, key []byte, nonce uint64) ([]byte, error)
	Decrypt(ciphertext, key []byte, nonce uint64) ([]byte, error)
}

// ChaCha20Poly1305 is the default AEAD, keyed by a 32-byte key and a
// nonce derived deterministically from the send/receive nonce counter.
type ChaCha20Poly1305 struct{}

// New returns the default AEAD implementation.
func New() *ChaCha20Poly1305 { return &ChaCha20Poly1305{} }

func (ChaCha20Poly1305) aead(key []byte) (cipher.AEAD, error) {
	return chacha20poly1305.New(key)
}

func nonceBytes(nonce uint64) []byte {
	b := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(b[chacha20poly1305.NonceSize-8:], nonce)
	return b
}

// Encrypt seals plaintext under key and the given counter nonce,
// returning ciphertext with a trailing 16-byte tag.
func (c ChaCha20Poly1305) Encrypt(plaintext, key []byte, nonce uint64) ([]byte, error) {
	a, err := c.aead(key)
	if err != nil {
		return nil, err
	}
	return a.Seal(nil, nonceBytes(nonce), plaintext, nil), nil
}

// Decrypt opens ciphertext (plaintext || 16-byte tag) under key and
// nonce, returning an *AuthError on failure.
func (c ChaCha20Poly1305) Decrypt(ciphertext, key []byte, nonce uint64) ([]byte, error) {
	a, err := c.aead(key)
	if err != nil {
		return nil, err
	}
	pt, err := a.Open(nil, nonceBytes(nonce), ciphertext, nil)
	if err != nil {
		return nil, &AuthError{Err: err}
	}
	return pt, nil
}
