// Package ratelimit enforces sliding-window request limits for the API.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"
)

// Result captures the outcome of a rate-limit evaluation.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the whole seconds until the window frees a slot, at
// least one.
func (r *Result) RetryAfter(now time.Time) int {
	if r == nil {
		return 1
	}
	seconds := int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// Limiter describes a rate-limiting strategy interface.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// ErrLimitExceeded indicates the rate limit has been reached for the key.
var ErrLimitExceeded = errors.New("rate limit exceeded")
