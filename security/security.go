// Package security implements the nonce sequencing, replay window, and
// key rotation policy. The current symmetric key is held in a
// memguard.LockedBuffer rather than a plain []byte so that it cannot be
// read back out of a core dump or a swapped page.
package security

import (
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"
	"io"

	logpkg "github.com/quince-transport/quince/internal/log"
)

var log = logpkg.New("security")

const hkdfInfo = "quince key rotation v1"

// Manager is the per-connection security state. Like the rest of the
// core, it is owned exclusively by the connection engine.
type Manager struct {
	key *memguard.LockedBuffer

	sendNonce            uint64
	packetsSinceRotation int
	lastRotation         time.Time

	window *replayWindow

	maxPacketsPerKey int
	maxTimePerKey    time.Duration
	replayWindowSize int
}

// Config bundles the rotation policy knobs (mirrors config.SecurityConfig
// without importing the config package, so this package has no
// dependency on the config layer).
type Config struct {
	MaxPacketsPerKey int
	MaxTimePerKey    time.Duration
	ReplayWindowSize int
}

// New creates a Manager already keyed with the given initial shared
// secret (e.g. the handshake's ECDH output), deriving the actual AEAD key
// via HKDF exactly as Rotate does, so the first key and every subsequent
// rotated key go through the same derivation path.
func New(cfg Config, initialSecret []byte, now time.Time) (*Manager, error) {
	m := &Manager{
		maxPacketsPerKey: cfg.MaxPacketsPerKey,
		maxTimePerKey:    cfg.MaxTimePerKey,
		replayWindowSize: cfg.ReplayWindowSize,
		window:           newReplayWindow(cfg.ReplayWindowSize),
	}
	if err := m.rotateLocked(initialSecret, now); err != nil {
		return nil, err
	}
	return m, nil
}

// NextNonce returns the current send nonce and advances it, wrapping on
// overflow, incrementing packets_since_rotation.
func (m *Manager) NextNonce() uint64 {
	n := m.sendNonce
	m.sendNonce++
	m.packetsSinceRotation++
	return n
}

// ShouldRotate reports whether the packet-count or time budget for the
// current key has been exhausted.
func (m *Manager) ShouldRotate(now time.Time) bool {
	if m.packetsSinceRotation >= m.maxPacketsPerKey {
		return true
	}
	return now.Sub(m.lastRotation) >= m.maxTimePerKey
}

// Rotate derives a fresh key from newSecret, resets the send nonce and
// packet counter, and clears the replay window.
func (m *Manager) Rotate(newSecret []byte, now time.Time) error {
	return m.rotateLocked(newSecret, now)
}

// RotateSelf ratchets the key forward from its own current value, for
// periodic rotation on the packet-count/time budget without requiring a
// fresh handshake exchange.
func (m *Manager) RotateSelf(now time.Time) error {
	current := append([]byte(nil), m.Key()...)
	return m.rotateLocked(current, now)
}

func deriveKey(secret []byte) ([]byte, error) {
	derived := make([]byte, 32)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, err
	}
	return derived, nil
}

// RatchetCandidate returns the key RotateSelf would install next, without
// installing it. A receiver uses it to trial-decrypt a packet from a peer
// that has already rotated ahead on its own packet or time budget, then
// adopts the rotation via RotateSelf on success.
func (m *Manager) RatchetCandidate() ([]byte, error) {
	return deriveKey(m.Key())
}

func (m *Manager) rotateLocked(secret []byte, now time.Time) error {
	derived, err := deriveKey(secret)
	if err != nil {
		return err
	}
	if m.key != nil {
		m.key.Destroy()
	}
	m.key = memguard.NewBufferFromBytes(derived)
	m.sendNonce = 0
	m.packetsSinceRotation = 0
	m.lastRotation = now
	m.window = newReplayWindow(m.replayWindowSize)
	log.Debugf("rotated key at %v", now)
	return nil
}

// Key returns the current derived symmetric key bytes. The returned slice
// aliases memguard's locked buffer and must not be retained past the next
// Rotate or Destroy call.
func (m *Manager) Key() []byte {
	return m.key.Bytes()
}

// Destroy releases the locked key buffer. Call once when the connection
// closes.
func (m *Manager) Destroy() {
	if m.key != nil {
		m.key.Destroy()
	}
}

// ValidateIncoming applies the replay-rejection policy: reject if
// too far below the largest observed nonce, reject if already seen,
// otherwise record it and prune old entries.
func (m *Manager) ValidateIncoming(nonce uint64) bool {
	return m.window.validate(nonce)
}

// HighWater returns the largest nonce this manager's replay window has
// observed, for journaling to a ReplayStore.
func (m *Manager) HighWater() uint64 {
	return m.window.largestObserved
}
