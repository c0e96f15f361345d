// Package idempotency replays the stored response of a request whose
// Idempotency-Key was already served.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var (
	// ErrRequestInProgress is returned while another request holds the key.
	ErrRequestInProgress = errors.New("request with this key is already in progress")
	// ErrKeyReused is returned when a key is replayed with a different payload.
	ErrKeyReused = errors.New("idempotency key was used with a different request")
)

// Response is the HTTP outcome stored under a key.
type Response struct {
	StatusCode int
	Body       []byte
}

// Operation produces the response to store.
type Operation func(ctx context.Context) (*Response, error)

type Result struct {
	Response  *Response
	FromCache bool
}

type Manager interface {
	Execute(ctx context.Context, key, fingerprint string, ttl time.Duration, fn Operation) (*Result, error)
}

type manager struct {
	store   Store
	lockTTL time.Duration
	log     *slog.Logger
}

// NewManager creates a Manager over store. lockTTL bounds how long a crashed
// request can hold a key.
func NewManager(store Store, lockTTL time.Duration, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}

	return &manager{
		store:   store,
		lockTTL: lockTTL,
		log:     log,
	}
}

// Execute runs fn once per key. A completed record is replayed; a failed fn
// stores nothing so the client may retry with the same key.
func (m *manager) Execute(ctx context.Context, key, fingerprint string, ttl time.Duration, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	if result, err := m.cached(ctx, key, fingerprint); result != nil || err != nil {
		return result, err
	}

	locked, err := m.store.Lock(ctx, key, m.lockTTL)
	if err != nil {
		return nil, err
	}
	if !locked {
		if result, err := m.cached(ctx, key, fingerprint); result != nil || err != nil {
			return result, err
		}
		return nil, ErrRequestInProgress
	}
	defer func() {
		_ = m.store.ReleaseLock(context.WithoutCancel(ctx), key)
	}()

	response, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if response == nil {
		response = &Response{}
	}

	record := &Record{
		Status:      StatusCompleted,
		Fingerprint: fingerprint,
		StatusCode:  response.StatusCode,
		Body:        response.Body,
	}
	if err := m.store.Set(ctx, key, record, ttl); err != nil {
		m.log.Warn("idempotency record not stored", slog.String("key", key), slog.Any("error", err))
	}

	return &Result{Response: response}, nil
}

func (m *manager) cached(ctx context.Context, key, fingerprint string) (*Result, error) {
	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Status != StatusCompleted {
		return nil, nil
	}
	if record.Fingerprint != "" && fingerprint != "" && record.Fingerprint != fingerprint {
		return nil, ErrKeyReused
	}

	return &Result{
		Response:  &Response{StatusCode: record.StatusCode, Body: record.Body},
		FromCache: true,
	}, nil
}
