// Package fake provides a manually driven clock for timer-based state machines.
package fake

import (
	"sync"
	"time"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

// Clock implements feedback.Clock. Timers fire only when the test says so.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*Timer
}

// New returns a Clock frozen at start.
func New(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the frozen time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward without firing timers.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AfterFunc records f to be run by Fire.
func (c *Clock) AfterFunc(d time.Duration, f func()) feedback.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &Timer{clock: c, Delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Pending returns the delays of timers neither fired nor stopped, oldest first.
func (c *Clock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.done {
			out = append(out, t.Delay)
		}
	}
	return out
}

// Fire advances the clock by the oldest pending timer's delay and runs its
// callback on the calling goroutine. It reports false when nothing is pending.
func (c *Clock) Fire() (time.Duration, bool) {
	c.mu.Lock()
	var next *Timer
	for _, t := range c.timers {
		if !t.done {
			next = t
			break
		}
	}
	if next == nil {
		c.mu.Unlock()
		return 0, false
	}
	next.done = true
	c.now = c.now.Add(next.Delay)
	c.mu.Unlock()

	next.f()
	return next.Delay, true
}

// Timer is a pending callback.
type Timer struct {
	clock *Clock
	Delay time.Duration
	f     func()
	done  bool
}

// Stop cancels the timer, reporting whether it was still pending.
func (t *Timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}
