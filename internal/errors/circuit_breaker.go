package errors

import (
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

var (
	ErrCircuitOpen             = errors.New("circuit breaker is open")
	ErrHalfOpenTooManyRequests = errors.New("too many requests in half-open")
)

// BreakerSettings tunes a CircuitBreaker. Zero fields take the defaults below.
type BreakerSettings struct {
	ErrorThreshold      float64
	MinRequests         int
	OpenTimeout         time.Duration
	HalfOpenMaxRequests int
	OnStateChange       func(name string, from, to State)
}

const (
	defaultErrorThreshold      = 0.5
	defaultMinRequests         = 10
	defaultOpenTimeout         = 30 * time.Second
	defaultHalfOpenMaxRequests = 3
)

type CircuitBreaker struct {
	name     string
	settings BreakerSettings
	now      func() time.Time

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	requests        int
	halfOpenCalls   int
	lastFailureTime time.Time
}

func NewCircuitBreaker(name string, settings BreakerSettings) *CircuitBreaker {
	if settings.ErrorThreshold <= 0 {
		settings.ErrorThreshold = defaultErrorThreshold
	}
	if settings.MinRequests <= 0 {
		settings.MinRequests = defaultMinRequests
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = defaultOpenTimeout
	}
	if settings.HalfOpenMaxRequests <= 0 {
		settings.HalfOpenMaxRequests = defaultHalfOpenMaxRequests
	}

	return &CircuitBreaker{
		name:     name,
		settings: settings,
		now:      time.Now,
		state:    StateClosed,
	}
}

// Call runs fn unless the breaker is open. Only retryable AppErrors and plain
// errors count as failures; validation-style errors do not trip the breaker.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if fn == nil {
		return nil
	}

	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailureTime) >= cb.settings.OpenTimeout {
			cb.setStateLocked(StateHalfOpen)
		} else {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		if cb.halfOpenCalls >= cb.settings.HalfOpenMaxRequests {
			cb.mu.Unlock()
			return ErrHalfOpenTooManyRequests
		}
		cb.halfOpenCalls++
	}
	cb.mu.Unlock()

	callErr := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	if callErr != nil && countsAsFailure(callErr) {
		cb.failures++

		if cb.state == StateHalfOpen {
			cb.tripLocked()
		} else {
			cb.evaluateLocked()
		}

		return callErr
	}

	cb.successes++
	if cb.state == StateHalfOpen && cb.successes >= cb.settings.HalfOpenMaxRequests {
		cb.setStateLocked(StateClosed)
	}

	return callErr
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) evaluateLocked() {
	if cb.requests < cb.settings.MinRequests {
		return
	}

	errorRate := float64(cb.failures) / float64(cb.requests)
	if errorRate >= cb.settings.ErrorThreshold {
		cb.tripLocked()
	}
}

func (cb *CircuitBreaker) tripLocked() {
	cb.lastFailureTime = cb.now()
	cb.setStateLocked(StateOpen)
}

func (cb *CircuitBreaker) setStateLocked(next State) {
	prev := cb.state
	cb.state = next
	cb.failures = 0
	cb.successes = 0
	cb.requests = 0
	cb.halfOpenCalls = 0

	if prev != next && cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.name, prev, next)
	}
}

func countsAsFailure(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Retryable
	}
	return true
}
