// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

// Clock implements feedback.Clock on the time package.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc runs f in its own goroutine once d has elapsed.
func (Clock) AfterFunc(d time.Duration, f func()) feedback.Timer {
	return time.AfterFunc(d, f)
}
