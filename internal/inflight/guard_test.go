package inflight

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/himera-lend/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRedisGuard(t *testing.T, ttl time.Duration) (*RedisGuard, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisGuard(client, ttl, testLogger()), mr
}

func TestGuards(t *testing.T) {
	redisGuard, _ := newRedisGuard(t, time.Minute)

	testCases := []struct {
		name  string
		guard Guard
	}{
		{name: "memory", guard: NewMemoryGuard()},
		{name: "redis", guard: redisGuard},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			key := Key("Supply", "base", "0xabc", "0xdef")

			release, err := tc.guard.Acquire(ctx, key)
			require.NoError(t, err)

			_, err = tc.guard.Acquire(ctx, key)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeInProgress))
			assert.Equal(t, "Action already in progress: Supply:base:0xabc:0xdef", err.Error())

			other, err := tc.guard.Acquire(ctx, Key("Supply", "base", "0xabc", "0x123"))
			require.NoError(t, err)
			other()

			release()
			release()

			again, err := tc.guard.Acquire(ctx, key)
			require.NoError(t, err)
			again()
		})
	}
}

func TestMemoryGuard_ConcurrentAcquire(t *testing.T) {
	guard := NewMemoryGuard()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := guard.Acquire(context.Background(), "same"); err == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, acquired)
	assert.True(t, guard.Held("same"))
}

func TestRedisGuard_ExpiredLockIsNotReleasedByStaleHolder(t *testing.T) {
	guard, mr := newRedisGuard(t, time.Second)
	ctx := context.Background()

	staleRelease, err := guard.Acquire(ctx, "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	freshRelease, err := guard.Acquire(ctx, "k")
	require.NoError(t, err)

	staleRelease()
	assert.True(t, mr.Exists(keyPrefix+"k"))

	freshRelease()
	assert.False(t, mr.Exists(keyPrefix+"k"))
}
