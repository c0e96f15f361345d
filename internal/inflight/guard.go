// Package inflight rejects a second concurrent run of the same logical action.
package inflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/Proton-105/himera-lend/internal/errors"
)

const (
	keyPrefix  = "inflight:"
	defaultTTL = 10 * time.Minute
)

// Guard hands out exclusive claims on keys. Acquire fails with an in-progress
// error while another claim on key is held; release frees it.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Key builds the claim key of an action for one user and asset.
func Key(action, network, user, asset string) string {
	return fmt.Sprintf("%s:%s:%s:%s", action, network, user, asset)
}

// MemoryGuard keeps claims in process memory.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]struct{})}
}

func (g *MemoryGuard) Acquire(ctx context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.held[key]; ok {
		return nil, apperrors.NewInProgressError(key)
	}
	g.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, nil
}

// Held reports whether key is currently claimed.
func (g *MemoryGuard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares claims across instances with SET NX. The TTL bounds how
// long a crashed holder blocks the key.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewRedisGuard(client *redis.Client, ttl time.Duration, log *slog.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = slog.Default()
	}

	return &RedisGuard{client: client, ttl: ttl, log: log}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	ok, err := g.client.SetNX(ctx, redisKey, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire inflight lock: %w", err)
	}
	if !ok {
		return nil, apperrors.NewInProgressError(key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := releaseScript.Run(releaseCtx, g.client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				g.log.Warn("failed to release inflight lock", slog.String("key", key), slog.String("error", err.Error()))
			}
		})
	}, nil
}
