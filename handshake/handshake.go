// Package handshake implements the opaque ECDH collaborator: an ephemeral
// X25519 key pair and derivation of a shared symmetric secret from a
// peer's 32-byte public value.
package handshake

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// PublicValueSize is the fixed size of the handshake payload's public
// value.
const PublicValueSize = 32

// KeyExchangeError wraps a failure to compute a shared secret, e.g. a
// low-order peer public value.
type KeyExchangeError struct{ Err error }

func (e *KeyExchangeError) Error() string {
	return fmt.Sprintf("handshake: key exchange failed: %v", e.Err)
}

// KeyPair is an ephemeral X25519 key pair.
type KeyPair struct {
	private [32]byte
	Public  [PublicValueSize]byte
}

// Generate creates a fresh ephemeral key pair.
func Generate() (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := rand.Read(kp.private[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(kp.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret derives the shared secret from peerPublic, for use as the
// initial secret fed into security.Manager, which HKDF-derives the
// actual symmetric key from it.
func (kp *KeyPair) SharedSecret(peerPublic [PublicValueSize]byte) ([]byte, error) {
	secret, err := curve25519.X25519(kp.private[:], peerPublic[:])
	if err != nil {
		return nil, &KeyExchangeError{Err: err}
	}
	return secret, nil
}
