package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := Config{MaxPacketsPerKey: 5, MaxTimePerKey: time.Hour, ReplayWindowSize: 1000}
	m, err := New(cfg, []byte("initial shared secret material"), time.Now())
	require.NoError(t, err)
	return m
}

func TestNextNonceIsSequential(t *testing.T) {
	m := newTestManager(t)
	require.Equal(t, uint64(0), m.NextNonce())
	require.Equal(t, uint64(1), m.NextNonce())
	require.Equal(t, uint64(2), m.NextNonce())
}

func TestShouldRotateAfterMaxPackets(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 5; i++ {
		require.False(t, m.ShouldRotate(time.Now()))
		m.NextNonce()
	}
	require.True(t, m.ShouldRotate(time.Now()))
}

func TestShouldRotateAfterMaxTime(t *testing.T) {
	now := time.Now()
	cfg := Config{MaxPacketsPerKey: 1_000_000, MaxTimePerKey: time.Second, ReplayWindowSize: 1000}
	m, err := New(cfg, []byte("secret"), now)
	require.NoError(t, err)
	require.False(t, m.ShouldRotate(now.Add(500*time.Millisecond)))
	require.True(t, m.ShouldRotate(now.Add(2*time.Second)))
}

func TestRotateResetsNonceAndCounters(t *testing.T) {
	m := newTestManager(t)
	m.NextNonce()
	m.NextNonce()
	keyBefore := append([]byte(nil), m.Key()...)

	require.NoError(t, m.Rotate([]byte("a different shared secret"), time.Now()))
	require.Equal(t, uint64(0), m.NextNonce())
	require.NotEqual(t, keyBefore, m.Key())
}

func TestRotateClearsReplayWindow(t *testing.T) {
	m := newTestManager(t)
	require.True(t, m.ValidateIncoming(100))
	require.NoError(t, m.Rotate([]byte("new secret"), time.Now()))
	// The same nonce value is valid again against the fresh window.
	require.True(t, m.ValidateIncoming(100))
}

func TestValidateIncomingRejectsSimpleReplay(t *testing.T) {
	m := newTestManager(t)
	require.True(t, m.ValidateIncoming(100))
	require.True(t, m.ValidateIncoming(101))
	require.False(t, m.ValidateIncoming(100))
}

func TestValidateIncomingWindowBoundary(t *testing.T) {
	cfg := Config{MaxPacketsPerKey: 1_000_000, MaxTimePerKey: time.Hour, ReplayWindowSize: 1000}
	m, err := New(cfg, []byte("secret"), time.Now())
	require.NoError(t, err)

	require.True(t, m.ValidateIncoming(10000))
	// 10000 - 1000 = 9000 is outside the window (too far below).
	require.False(t, m.ValidateIncoming(1000))
	// 10000 - 9500 = 500 is within the window.
	require.True(t, m.ValidateIncoming(9500))
}

func TestValidateIncomingAcceptsOutOfOrderWithinWindow(t *testing.T) {
	m := newTestManager(t)
	require.True(t, m.ValidateIncoming(50))
	require.True(t, m.ValidateIncoming(48))
	require.True(t, m.ValidateIncoming(49))
	require.False(t, m.ValidateIncoming(48))
}

func TestRotateSelfDerivesDifferentKey(t *testing.T) {
	m := newTestManager(t)
	before := append([]byte(nil), m.Key()...)
	require.NoError(t, m.RotateSelf(time.Now()))
	require.NotEqual(t, before, m.Key())
	require.Equal(t, uint64(0), m.NextNonce())
}

func TestDestroyWithoutUseAfter(t *testing.T) {
	m := newTestManager(t)
	m.Destroy()
}

func TestRatchetCandidateMatchesRotateSelf(t *testing.T) {
	m := newTestManager(t)
	candidate, err := m.RatchetCandidate()
	require.NoError(t, err)
	require.NotEqual(t, append([]byte(nil), m.Key()...), candidate)

	require.NoError(t, m.RotateSelf(time.Now()))
	require.Equal(t, candidate, m.Key())
}
