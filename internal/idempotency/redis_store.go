package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces idempotency records in Redis.
const KeyPrefix = "idempotency:"

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// Record is the stored state of one idempotency key.
type Record struct {
	Status      string
	Fingerprint string
	StatusCode  int
	Body        []byte
}

// Store persists records and the per-key execution lock.
type Store interface {
	Lock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, key string, record *Record, ttl time.Duration) error
	ReleaseLock(ctx context.Context, key string) error
}

// RedisStore keeps records as hashes next to a SetNX lock key.
type RedisStore struct {
	client redis.UniversalClient
	log    *slog.Logger
}

func NewRedisStore(client redis.UniversalClient, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}

	return &RedisStore{
		client: client,
		log:    log,
	}
}

func (s *RedisStore) Lock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	acquired, err := s.client.SetNX(ctx, lockKey(key), 1, lockTTL).Result()
	if err != nil {
		s.log.Error("failed to acquire idempotency lock", slog.String("key", key), slog.Any("error", err))
		return false, err
	}
	return acquired, nil
}

// Get returns nil, nil when no record exists.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	result, err := s.client.HGetAll(ctx, recordKey(key)).Result()
	if err != nil {
		s.log.Error("failed to fetch idempotency record", slog.String("key", key), slog.Any("error", err))
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	record := &Record{
		Status:      result["status"],
		Fingerprint: result["fingerprint"],
		Body:        []byte(result["body"]),
	}
	if raw := result["status_code"]; raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("decode idempotency status code: %w", err)
		}
		record.StatusCode = code
	}
	return record, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, record *Record, ttl time.Duration) error {
	if record == nil {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recordKey(key))
	pipe.HSet(ctx, recordKey(key), map[string]interface{}{
		"status":      record.Status,
		"fingerprint": record.Fingerprint,
		"status_code": record.StatusCode,
		"body":        string(record.Body),
	})
	pipe.Expire(ctx, recordKey(key), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error("failed to store idempotency record", slog.String("key", key), slog.Any("error", err))
		return err
	}
	return nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, lockKey(key)).Err(); err != nil {
		s.log.Error("failed to release idempotency lock", slog.String("key", key), slog.Any("error", err))
		return err
	}
	return nil
}

func recordKey(key string) string {
	return KeyPrefix + key
}

func lockKey(key string) string {
	return KeyPrefix + key + ":lock"
}
