package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cleaner periodically drops stale rate-limit state: idle in-memory buckets
// and Redis keys left without an expiry.
type Cleaner struct {
	redisClient redis.UniversalClient
	memory      *MemoryLimiter
	maxAge      time.Duration
	log         *slog.Logger
	interval    time.Duration
}

// NewCleaner constructs a Cleaner. Either backend may be nil.
func NewCleaner(client redis.UniversalClient, memory *MemoryLimiter, maxAge, interval time.Duration, log *slog.Logger) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}

	return &Cleaner{
		redisClient: client,
		memory:      memory,
		maxAge:      maxAge,
		log:         log,
		interval:    interval,
	}
}

// Run starts the cleaner loop until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c.interval <= 0 || (c.redisClient == nil && c.memory == nil) {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("rate limit cleaner stopped", slog.String("reason", ctx.Err().Error()))
			return
		case <-ticker.C:
			c.Cleanup(ctx)
		}
	}
}

// Cleanup runs one pass and returns the number of removed entries.
func (c *Cleaner) Cleanup(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	cleaned := 0
	if c.memory != nil {
		cleaned += c.memory.Cleanup(c.maxAge)
	}
	if c.redisClient != nil {
		cleaned += c.cleanupRedis(ctx)
	}

	if cleaned > 0 {
		c.log.Info("rate limit keys cleaned", slog.Int("keys_removed", cleaned))
	}
	return cleaned
}

func (c *Cleaner) cleanupRedis(ctx context.Context) int {
	const scanCount = 100

	var (
		cursor  uint64
		cleaned int
	)
	for {
		keys, nextCursor, err := c.redisClient.Scan(ctx, cursor, KeyPrefix+"*", scanCount).Result()
		if err != nil {
			c.log.Error("rate limit scan failed", slog.Any("error", err))
			return cleaned
		}

		for _, key := range keys {
			ttl, err := c.redisClient.PTTL(ctx, key).Result()
			if err != nil {
				c.log.Warn("failed to read rate limit key ttl", slog.String("key", key), slog.Any("error", err))
				continue
			}
			// -1 means no expiry; -2 means the key is already gone.
			if ttl != -1 {
				continue
			}
			if err := c.redisClient.Del(ctx, key).Err(); err != nil {
				c.log.Warn("failed to delete rate limit key", slog.String("key", key), slog.Any("error", err))
				continue
			}
			cleaned++
		}

		if nextCursor == 0 {
			return cleaned
		}
		cursor = nextCursor
	}
}
