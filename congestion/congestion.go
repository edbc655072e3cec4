// Package congestion implements the AIMD controller with a pacing token
// bucket. The Controller follows a single-actor state ownership style:
// it is mutated only by the owning engine, never concurrently.
package congestion

import "time"

const (
	// MSS is the maximum segment size the controller reasons about.
	MSS = 1460
	// DefaultMaxCwnd is the hard ceiling on cwnd growth.
	DefaultMaxCwnd = 10 * 1024 * 1024
)

// Controller is the per-connection congestion state.
type Controller struct {
	cwnd          int64
	ssthresh      int64
	bytesInFlight int64
	maxCwnd       int64
	mss           int64

	recovering    bool
	recoveryStart time.Time

	pacingRate   int64 // bytes/sec
	pacingTokens int64
	pacingCap    int64
	lastRefill   time.Time
}

// New returns a Controller with the given initial cwnd/ssthresh/MSS and a
// pacing bucket capped at 0.1s worth of the given rate.
func New(initialCwnd, initialSsthresh, mss, maxCwnd int, pacingRateBytesPerSec int64, now time.Time) *Controller {
	cap := pacingRateBytesPerSec / 10
	return &Controller{
		cwnd:         int64(initialCwnd),
		ssthresh:     int64(initialSsthresh),
		maxCwnd:      int64(maxCwnd),
		mss:          int64(mss),
		pacingRate:   pacingRateBytesPerSec,
		pacingTokens: cap,
		pacingCap:    cap,
		lastRefill:   now,
	}
}

// Cwnd returns the current congestion window, in bytes.
func (c *Controller) Cwnd() int64 { return c.cwnd }

// Ssthresh returns the current slow-start threshold, in bytes.
func (c *Controller) Ssthresh() int64 { return c.ssthresh }

// BytesInFlight returns the current bytes in flight (never negative).
func (c *Controller) BytesInFlight() int64 { return c.bytesInFlight }

// OnAck applies an acknowledgement of bytesAcked bytes: slow-start growth
// while cwnd < ssthresh, else linear (congestion-avoidance) growth,
// clamped at maxCwnd.
func (c *Controller) OnAck(bytesAcked int64) {
	c.bytesInFlight -= bytesAcked
	if c.bytesInFlight < 0 {
		c.bytesInFlight = 0
	}
	if c.cwnd < c.ssthresh {
		c.cwnd += bytesAcked
	} else {
		c.cwnd += (c.mss * c.mss) / max64(1, c.cwnd)
	}
	if c.cwnd > c.maxCwnd {
		c.cwnd = c.maxCwnd
	}
}

// OnLoss halves cwnd (floor ssthresh at the prior cwnd/2, never below MSS)
// and marks recovery as starting now.
func (c *Controller) OnLoss(now time.Time) {
	half := c.cwnd / 2
	if half < c.mss {
		half = c.mss
	}
	c.ssthresh = half
	c.cwnd = c.ssthresh
	c.recovering = true
	c.recoveryStart = now
}

// InRecovery reports whether a loss episode has been marked and not yet
// cleared.
func (c *Controller) InRecovery() bool { return c.recovering }

// MarkInFlight accounts bytes as newly sent.
func (c *Controller) MarkInFlight(bytes int64) {
	c.bytesInFlight += bytes
}

// RemoveFromFlight accounts bytes as no longer in flight without touching
// cwnd or ssthresh, for a packet evicted by loss classification rather
// than acknowledged.
func (c *Controller) RemoveFromFlight(bytes int64) {
	c.bytesInFlight -= bytes
	if c.bytesInFlight < 0 {
		c.bytesInFlight = 0
	}
}

// CanSend reports whether bytes additional bytes may be sent now: both the
// congestion window and the pacing bucket must permit it. A true result
// consumes pacing tokens; a false result leaves the bucket untouched so
// the caller may retry once more tokens accrue.
func (c *Controller) CanSend(bytes int64, now time.Time) bool {
	if c.bytesInFlight+bytes > c.cwnd {
		return false
	}
	c.refillPacing(now)
	if c.pacingTokens < bytes {
		return false
	}
	c.pacingTokens -= bytes
	return true
}

func (c *Controller) refillPacing(now time.Time) {
	elapsed := now.Sub(c.lastRefill)
	if elapsed <= 0 {
		return
	}
	c.lastRefill = now
	added := int64(elapsed.Seconds() * float64(c.pacingRate))
	c.pacingTokens += added
	if c.pacingTokens > c.pacingCap {
		c.pacingTokens = c.pacingCap
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
