package congestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newDefault(now time.Time) *Controller {
	return New(1460, 65535, 1460, 10*1024*1024, 1_000_000_000, now)
}

func TestInitialState(t *testing.T) {
	c := newDefault(time.Now())
	require.Equal(t, int64(1460), c.Cwnd())
	require.Equal(t, int64(65535), c.Ssthresh())
	require.Equal(t, int64(0), c.BytesInFlight())
}

func TestSlowStartGrowsExponentially(t *testing.T) {
	c := newDefault(time.Now())
	c.MarkInFlight(1460)
	before := c.Cwnd()
	c.OnAck(1460)
	require.Greater(t, c.Cwnd(), before)
	require.Equal(t, int64(0), c.BytesInFlight())
}

func TestCongestionHalvingOnLoss(t *testing.T) {
	// Scenario 4: drive 10 ACKs of 1460 bytes, then lose one.
	now := time.Now()
	c := newDefault(now)
	for i := 0; i < 10; i++ {
		c.MarkInFlight(1460)
		c.OnAck(1460)
	}
	cwndBeforeLoss := c.Cwnd()
	require.Greater(t, cwndBeforeLoss, int64(1460))

	c.OnLoss(now)
	require.Equal(t, cwndBeforeLoss/2, c.Ssthresh())
	require.Equal(t, c.Ssthresh(), c.Cwnd())
	require.GreaterOrEqual(t, c.Ssthresh(), int64(MSS))
	require.True(t, c.InRecovery())
}

func TestCwndNeverBelowMSSAfterLoss(t *testing.T) {
	now := time.Now()
	c := New(MSS, MSS, MSS, DefaultMaxCwnd, 1_000_000_000, now)
	c.OnLoss(now)
	require.GreaterOrEqual(t, c.Cwnd(), int64(MSS))
}

func TestCwndClampedAtMax(t *testing.T) {
	now := time.Now()
	c := New(DefaultMaxCwnd-100, 1, DefaultMaxCwnd-100, DefaultMaxCwnd, 1_000_000_000, now)
	c.MarkInFlight(1000)
	c.OnAck(1000)
	require.LessOrEqual(t, c.Cwnd(), int64(DefaultMaxCwnd))
}

func TestBytesInFlightNeverNegative(t *testing.T) {
	c := newDefault(time.Now())
	c.OnAck(10000) // ack more than was ever marked in-flight
	require.Equal(t, int64(0), c.BytesInFlight())
}

func TestRemoveFromFlightOnLossEviction(t *testing.T) {
	c := newDefault(time.Now())
	c.MarkInFlight(1460)
	c.MarkInFlight(500)
	c.RemoveFromFlight(1460)
	require.Equal(t, int64(500), c.BytesInFlight())
}

func TestRemoveFromFlightNeverNegative(t *testing.T) {
	c := newDefault(time.Now())
	c.MarkInFlight(100)
	c.RemoveFromFlight(10000)
	require.Equal(t, int64(0), c.BytesInFlight())
}

func TestCanSendRespectsCwnd(t *testing.T) {
	now := time.Now()
	c := New(1460, 65535, 1460, DefaultMaxCwnd, 1_000_000_000, now)
	require.True(t, c.CanSend(1460, now))
	c.MarkInFlight(1460)
	require.False(t, c.CanSend(1, now))
}

func TestCanSendRespectsPacing(t *testing.T) {
	now := time.Now()
	c := New(DefaultMaxCwnd, DefaultMaxCwnd, 1460, DefaultMaxCwnd, 1000, now) // 1000 B/s, cap 100B
	require.False(t, c.CanSend(200, now))
	require.True(t, c.CanSend(50, now))
}

func TestPacingRefillsOverTime(t *testing.T) {
	now := time.Now()
	c := New(DefaultMaxCwnd, DefaultMaxCwnd, 1460, DefaultMaxCwnd, 1000, now)
	require.True(t, c.CanSend(100, now)) // drains the bucket entirely
	require.False(t, c.CanSend(1, now))
	later := now.Add(50 * time.Millisecond)
	require.True(t, c.CanSend(1, later))
}
