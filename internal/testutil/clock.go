package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a Clock.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Clock is a manually advanced wall clock for tests.
//
// Each transaction captures Now() at begin, so advancing the clock between
// transactions gives every transaction a distinct, predictable timestamp.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock stopped at Epoch.
func NewClock() *Clock {
	return &Clock{now: Epoch}
}

// Now returns the current time without advancing.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset stops the clock at Epoch again.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}
