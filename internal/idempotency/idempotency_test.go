package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client, Manager) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client, NewManager(NewRedisStore(client, testLogger()), time.Minute, testLogger())
}

func TestManager_ReplaysCompletedResponse(t *testing.T) {
	mr, _, manager := setup(t)
	ctx := context.Background()

	calls := 0
	op := func(context.Context) (*Response, error) {
		calls++
		return &Response{StatusCode: 201, Body: []byte(`{"id":"abc"}`)}, nil
	}

	first, err := manager.Execute(ctx, "k1", "fp", time.Hour, op)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := manager.Execute(ctx, "k1", "fp", time.Hour, op)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 201, second.Response.StatusCode)
	assert.JSONEq(t, `{"id":"abc"}`, string(second.Response.Body))
	assert.Equal(t, 1, calls)

	assert.False(t, mr.Exists(lockKey("k1")), "lock released")
	assert.True(t, mr.TTL(recordKey("k1")) > 0)
}

func TestManager_KeyReusedWithDifferentPayload(t *testing.T) {
	_, _, manager := setup(t)
	ctx := context.Background()

	_, err := manager.Execute(ctx, "k1", "fp-a", time.Hour, func(context.Context) (*Response, error) {
		return &Response{StatusCode: 201}, nil
	})
	require.NoError(t, err)

	_, err = manager.Execute(ctx, "k1", "fp-b", time.Hour, func(context.Context) (*Response, error) {
		t.Fatal("must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrKeyReused)
}

func TestManager_InProgress(t *testing.T) {
	_, client, manager := setup(t)
	ctx := context.Background()

	require.NoError(t, client.SetNX(ctx, lockKey("busy"), 1, time.Minute).Err())

	_, err := manager.Execute(ctx, "busy", "fp", time.Hour, func(context.Context) (*Response, error) {
		return &Response{}, nil
	})
	assert.ErrorIs(t, err, ErrRequestInProgress)
}

func TestManager_FailureIsNotStored(t *testing.T) {
	mr, _, manager := setup(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := manager.Execute(ctx, "k", "fp", time.Hour, func(context.Context) (*Response, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(recordKey("k")))
	assert.False(t, mr.Exists(lockKey("k")))

	result, err := manager.Execute(ctx, "k", "fp", time.Hour, func(context.Context) (*Response, error) {
		return &Response{StatusCode: 200}, nil
	})
	require.NoError(t, err)
	assert.False(t, result.FromCache)
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, GenerateKey("POST", "/v1/flows", "abc"), GenerateKey("POST", "/v1/flows", "abc"))
	assert.NotEqual(t, GenerateKey("POST", "/v1/flows", "abc"), GenerateKey("POST", "/v1/flows", "abd"))
	assert.Len(t, Fingerprint([]byte("{}")), 64)
}

func TestCleaner_Cleanup(t *testing.T) {
	mr, client, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, KeyPrefix+"forever", "x", 0).Err())
	require.NoError(t, client.Set(ctx, KeyPrefix+"long", "x", 48*time.Hour).Err())
	require.NoError(t, client.Set(ctx, KeyPrefix+"fresh", "x", time.Hour).Err())

	removed := NewCleaner(client, 25*time.Hour, time.Minute, testLogger()).Cleanup(ctx)

	assert.Equal(t, 2, removed)
	assert.True(t, mr.Exists(KeyPrefix+"fresh"))
	assert.False(t, mr.Exists(KeyPrefix+"forever"))
	assert.False(t, mr.Exists(KeyPrefix+"long"))
}
