// Package migration implements the peer-address migration tracker: a
// connection may observe its peer's UDP source address change (NAT
// rebinding) and follow it within a rate limit, while still accepting
// packets from the address the connection was dialed to. It tracks a
// two-address (original, current) model per connection.
package migration

import (
	"net"
	"time"
)

// Tracker is the per-connection migration state.
type Tracker struct {
	original net.Addr
	current  net.Addr

	migrationCount int
	lastMigration  time.Time
	hasMigrated    bool

	minInterval time.Duration
	maxCount    int
}

// New returns a Tracker pinned to the connection's original peer address.
func New(original net.Addr, minInterval time.Duration, maxCount int) *Tracker {
	return &Tracker{
		original:    original,
		current:     original,
		minInterval: minInterval,
		maxCount:    maxCount,
	}
}

// HasChanged reports whether addr differs from the current address.
func (t *Tracker) HasChanged(addr net.Addr) bool {
	return addr.String() != t.current.String()
}

// Migrate attempts to move the current address to addr, subject to the
// minimum-interval and maximum-count limits. It returns false
// (and makes no change) when either limit would be violated.
func (t *Tracker) Migrate(addr net.Addr, now time.Time) bool {
	if t.migrationCount >= t.maxCount {
		return false
	}
	if t.hasMigrated && now.Sub(t.lastMigration) < t.minInterval {
		return false
	}
	t.current = addr
	t.migrationCount++
	t.lastMigration = now
	t.hasMigrated = true
	return true
}

// Validate reports whether addr is acceptable as a source address for
// inbound packets: either the current address or the original one, so
// packets in flight during a migration window are not dropped.
func (t *Tracker) Validate(addr net.Addr) bool {
	s := addr.String()
	return s == t.current.String() || s == t.original.String()
}

// Current returns the current peer address.
func (t *Tracker) Current() net.Addr { return t.current }

// Original returns the address the connection was originally dialed to.
func (t *Tracker) Original() net.Addr { return t.original }

// MigrationCount returns the number of accepted migrations so far.
func (t *Tracker) MigrationCount() int { return t.migrationCount }
