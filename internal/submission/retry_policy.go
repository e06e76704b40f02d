package submission

import (
	"math"
	"time"
)

// Retry defaults.
const (
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 2 * time.Second
)

// RetryPolicy doubles the wait after each failed attempt, without jitter.
type RetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

// NewRetryPolicy builds a policy; non-positive values fall back to defaults.
func NewRetryPolicy(maxRetries int, baseDelay time.Duration) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBackoffBase
	}
	return RetryPolicy{maxRetries: maxRetries, baseDelay: baseDelay}
}

// MaxRetries is the retry budget.
func (p RetryPolicy) MaxRetries() int { return p.maxRetries }

// ShouldRetry decides whether the result of attempt (zero based) earns another try.
func (p RetryPolicy) ShouldRetry(res Result, attempt int) bool {
	return res.Retryable() && attempt < p.maxRetries
}

// Backoff returns the wait before the attempt following attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return time.Duration(float64(p.baseDelay) * math.Pow(2, float64(attempt)))
}
