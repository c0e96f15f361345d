package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

var checkRecorder = func(backend, result string) {}

// RegisterCheckRecorder allows external packages to observe limiter decisions.
// result is allowed, rejected or error.
func RegisterCheckRecorder(recorder func(backend, result string)) {
	if recorder == nil {
		checkRecorder = func(string, string) {}
		return
	}

	checkRecorder = recorder
}

// AdaptiveLimiter delegates to a primary (Redis) limiter and falls back to
// a stricter in-memory limiter when the primary fails.
type AdaptiveLimiter struct {
	primary  Limiter
	fallback Limiter
	log      *slog.Logger
}

// NewAdaptiveLimiter creates a limiter that adapts between Redis and in-memory
// backends.
func NewAdaptiveLimiter(primary, fallback Limiter, log *slog.Logger) *AdaptiveLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &AdaptiveLimiter{
		primary:  primary,
		fallback: fallback,
		log:      log,
	}
}

// Check evaluates the limit using the primary backend. On a primary error the
// fallback applies half the limit. A rejection returns ErrLimitExceeded with
// the result.
func (a *AdaptiveLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	result, err := a.primary.Check(ctx, key, limit, window)
	if err == nil {
		return decide("redis", result)
	}

	checkRecorder("redis", "error")
	a.log.Warn("redis limiter failed, falling back to in-memory", slog.String("key", key), slog.Any("error", err))

	fallbackLimit := limit / 2
	if fallbackLimit <= 0 {
		fallbackLimit = 1
	}

	fallbackResult, fallbackErr := a.fallback.Check(ctx, key, fallbackLimit, window)
	if fallbackErr != nil {
		checkRecorder("fallback", "error")
		return fallbackResult, fallbackErr
	}
	return decide("fallback", fallbackResult)
}

func decide(backend string, result *Result) (*Result, error) {
	if result.Allowed {
		checkRecorder(backend, "allowed")
		return result, nil
	}
	checkRecorder(backend, "rejected")
	return result, ErrLimitExceeded
}
