// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements ledger.Clock using time.Now.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting UTC timestamps.
func New() *Clock {
	return &Clock{loc: time.UTC}
}

// NewLocal creates a Clock reporting timestamps in the process's local zone,
// which is what operators expect to read in the audit trail.
func NewLocal() *Clock {
	return &Clock{loc: time.Local}
}

// Now returns the current time in the clock's zone.
func (c *Clock) Now() time.Time {
	if c == nil || c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}
