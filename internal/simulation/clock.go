// Package simulation implements the event-driven kernel: the virtual clock,
// the publish/subscribe comms fabric, the module contract, and the
// priority-queue scheduler that ties them together.
package simulation

import (
	"sync/atomic"
	"time"
)

// Clock is a monotone virtual clock. Only the scheduler calls Set; every
// module reads it through its ModuleComms handle.
type Clock struct {
	nanosSinceEpoch atomic.Int64
}

// NewClock returns a clock set to the Unix epoch.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns the current virtual time.
func (c *Clock) Now() time.Time {
	return time.Unix(0, c.nanosSinceEpoch.Load()).UTC()
}

// Set advances the virtual clock. Callers must never move it backward; the
// scheduler is the only caller and it upholds that invariant.
func (c *Clock) Set(t time.Time) {
	c.nanosSinceEpoch.Store(t.UnixNano())
}
