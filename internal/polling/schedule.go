// Package polling re-reads a record on a tiered schedule until it is complete,
// the attempt budget runs out, or the session is cancelled.
package polling

import (
	"errors"
	"time"
)

// Schedule is one immediate attempt followed by a short-interval tier and a
// long-interval tier.
type Schedule struct {
	ShortInterval time.Duration
	ShortAttempts int
	LongInterval  time.Duration
	LongAttempts  int
}

// DefaultSchedule polls at once, four times every 5s, then three times every 10s.
func DefaultSchedule() Schedule {
	return Schedule{
		ShortInterval: 5 * time.Second,
		ShortAttempts: 4,
		LongInterval:  10 * time.Second,
		LongAttempts:  3,
	}
}

// MaxAttempts is the total attempt budget including the immediate one.
func (s Schedule) MaxAttempts() int {
	return 1 + s.ShortAttempts + s.LongAttempts
}

// Delay is the wait before attempt index (index 0 is immediate).
func (s Schedule) Delay(index int) time.Duration {
	switch {
	case index <= 0:
		return 0
	case index <= s.ShortAttempts:
		return s.ShortInterval
	default:
		return s.LongInterval
	}
}

// Validate rejects schedules that could never poll or would spin.
func (s Schedule) Validate() error {
	if s.ShortAttempts < 0 || s.LongAttempts < 0 {
		return errors.New("polling attempts must be >= 0")
	}
	if s.ShortAttempts > 0 && s.ShortInterval <= 0 {
		return errors.New("polling.short_interval must be > 0")
	}
	if s.LongAttempts > 0 && s.LongInterval <= 0 {
		return errors.New("polling.long_interval must be > 0")
	}
	return nil
}
