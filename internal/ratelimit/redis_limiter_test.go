package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/himera-lend/pkg/config"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestRedisLimiter_AllowsWithinLimit(t *testing.T) {
	_, client := setupTestRedis(t)
	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "test:allows", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 5-(i+1), result.Remaining)
	}
}

func TestRedisLimiter_BlocksWhenExceeded(t *testing.T) {
	_, client := setupTestRedis(t)
	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		result, err := limiter.Check(ctx, "test:blocks", 2, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i < 2, result.Allowed, "request %d", i)
	}

	count, err := client.ZCard(ctx, KeyPrefix+"test:blocks").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "rejected requests are not recorded")
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	_, client := setupTestRedis(t)
	limiter := NewRedisLimiter(client, testLogger())
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	limiter.now = clk.Now
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Check(ctx, "test:window", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := limiter.Check(ctx, "test:window", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, clk.now.Add(time.Second), result.ResetAt)
	assert.Equal(t, 1, result.RetryAfter(clk.now))

	clk.Advance(1100 * time.Millisecond)
	result, err = limiter.Check(ctx, "test:window", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRedisLimiter_ZeroLimitRejects(t *testing.T) {
	_, client := setupTestRedis(t)
	result, err := NewRedisLimiter(client, testLogger()).Check(context.Background(), "zero", 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	limiter := NewMemoryLimiter(testLogger())
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	limiter.now = clk.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "addr", 2, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i < 2, result.Allowed)
	}

	clk.Advance(time.Minute)
	result, err := limiter.Check(ctx, "addr", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	clk.Advance(time.Hour)
	assert.Equal(t, 1, limiter.Cleanup(time.Minute))
	assert.Equal(t, 0, limiter.Len())
}

type failingLimiter struct{}

func (failingLimiter) Check(context.Context, string, int, time.Duration) (*Result, error) {
	return nil, errors.New("connection refused")
}

func TestAdaptiveLimiter(t *testing.T) {
	var decisions []string
	RegisterCheckRecorder(func(backend, result string) { decisions = append(decisions, backend+":"+result) })
	t.Cleanup(func() { RegisterCheckRecorder(nil) })

	ctx := context.Background()

	t.Run("primary", func(t *testing.T) {
		decisions = nil
		limiter := NewAdaptiveLimiter(NewMemoryLimiter(nil), NewMemoryLimiter(nil), testLogger())

		_, err := limiter.Check(ctx, "k", 1, time.Minute)
		require.NoError(t, err)
		_, err = limiter.Check(ctx, "k", 1, time.Minute)
		assert.ErrorIs(t, err, ErrLimitExceeded)
		assert.Equal(t, []string{"redis:allowed", "redis:rejected"}, decisions)
	})

	t.Run("fallback halves the limit", func(t *testing.T) {
		decisions = nil
		limiter := NewAdaptiveLimiter(failingLimiter{}, NewMemoryLimiter(nil), testLogger())

		_, err := limiter.Check(ctx, "k", 4, time.Minute)
		require.NoError(t, err)
		_, err = limiter.Check(ctx, "k", 4, time.Minute)
		require.NoError(t, err)
		_, err = limiter.Check(ctx, "k", 4, time.Minute)
		assert.ErrorIs(t, err, ErrLimitExceeded)
		assert.Contains(t, decisions, "redis:error")
		assert.Equal(t, "fallback:rejected", decisions[len(decisions)-1])
	})
}

func TestNewRules(t *testing.T) {
	rules, err := NewRules(config.RateLimitConfig{
		Global:     config.RateLimitRule{Limit: 100, Window: "1s"},
		PerAddress: config.RateLimitRule{Limit: 30, Window: "1m"},
		Whitelist:  []string{"0xAbC", " 10.0.0.1 "},
	})
	require.NoError(t, err)

	assert.Equal(t, Rule{Name: "global", Limit: 100, Window: time.Second}, rules.Global)
	assert.True(t, rules.PerAddress.Enabled())
	assert.False(t, rules.Submit.Enabled())
	assert.True(t, rules.IsWhitelisted("0xabc"))
	assert.True(t, rules.IsWhitelisted("10.0.0.1"))
	assert.False(t, rules.IsWhitelisted("0xdef"))

	_, err = NewRules(config.RateLimitConfig{Submit: config.RateLimitRule{Limit: 1, Window: "soon"}})
	assert.ErrorContains(t, err, "ratelimit submit window")
}

func TestCleaner_Cleanup(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.ZAdd(ctx, KeyPrefix+"stale", redis.Z{Score: 1, Member: "a"}).Err())
	require.NoError(t, client.ZAdd(ctx, KeyPrefix+"live", redis.Z{Score: 1, Member: "a"}).Err())
	require.NoError(t, client.Expire(ctx, KeyPrefix+"live", time.Minute).Err())
	require.NoError(t, client.Set(ctx, "other", "x", 0).Err())

	memory := NewMemoryLimiter(testLogger())
	cleaner := NewCleaner(client, memory, time.Minute, time.Second, testLogger())

	assert.Equal(t, 1, cleaner.Cleanup(ctx))
	assert.False(t, mr.Exists(KeyPrefix+"stale"))
	assert.True(t, mr.Exists(KeyPrefix+"live"))
	assert.True(t, mr.Exists("other"))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
