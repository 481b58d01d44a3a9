// Package system provides the wall clock used to stamp batches and progress
// events.
package system

import "time"

// Clock reads UTC wall time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts the clock to the func() time.Time hooks taken by the compactor
// and progress reporters.
func (c Clock) Func() func() time.Time {
	return c.Now
}
