// Package system is the wall-clock implementation of harvest.Clock.
package system

import "time"

// Clock reads the system time. Frontier bookkeeping compares listing
// timestamps against scanned intervals, so Now always normalizes to UTC.
type Clock struct{}

// New returns the system clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
