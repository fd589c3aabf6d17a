// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements lead.Clock over a time source, reporting UTC so stored
// timestamps compare equal across repositories.
type Clock func() time.Time

// New returns a Clock reading the wall time.
func New() Clock {
	return time.Now
}

// Now returns the current time in UTC.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
