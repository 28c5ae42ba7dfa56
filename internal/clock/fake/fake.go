// Package fake provides a manually advanced clock for tests.
package fake

import (
	"sync"
	"time"
)

// Clock returns a fixed time until advanced.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// New creates a Clock frozen at now.
func New(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the frozen time.
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
