package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Proton-105/himera-lend/internal/domain"
)

// RateCache stores USD rates per network in a Redis hash keyed by symbol.
type RateCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRateCache constructs a cache whose entries live for ttl.
func NewRateCache(client redis.UniversalClient, ttl time.Duration) *RateCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RateCache{client: client, ttl: ttl}
}

// Get returns the cached rate of symbol. A miss returns nil, nil.
func (c *RateCache) Get(ctx context.Context, network domain.Network, symbol string) (*domain.ExchangeRate, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	data, err := c.client.HGet(ctx, cacheKey(network), normalizeSymbol(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached rate: %w", err)
	}

	var rate domain.ExchangeRate
	if err := json.Unmarshal(data, &rate); err != nil {
		return nil, fmt.Errorf("decode cached rate: %w", err)
	}

	return &rate, nil
}

// All returns every cached rate of network.
func (c *RateCache) All(ctx context.Context, network domain.Network) ([]domain.ExchangeRate, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	entries, err := c.client.HGetAll(ctx, cacheKey(network)).Result()
	if err != nil {
		return nil, fmt.Errorf("list cached rates: %w", err)
	}

	rates := make([]domain.ExchangeRate, 0, len(entries))
	for _, raw := range entries {
		var rate domain.ExchangeRate
		if err := json.Unmarshal([]byte(raw), &rate); err != nil {
			return nil, fmt.Errorf("decode cached rate: %w", err)
		}
		rates = append(rates, rate)
	}
	return rates, nil
}

// Set replaces the cached rates of network and restarts their TTL.
func (c *RateCache) Set(ctx context.Context, network domain.Network, rates []domain.ExchangeRate) error {
	if c == nil || c.client == nil || len(rates) == 0 {
		return nil
	}

	values := make(map[string]any, len(rates))
	for _, rate := range rates {
		payload, err := json.Marshal(rate)
		if err != nil {
			return fmt.Errorf("encode rate for cache: %w", err)
		}
		values[normalizeSymbol(rate.Symbol)] = payload
	}

	key := cacheKey(network)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set cached rates: %w", err)
	}

	return nil
}

// Invalidate drops the cached rates of network.
func (c *RateCache) Invalidate(ctx context.Context, network domain.Network) error {
	if c == nil || c.client == nil {
		return nil
	}

	if err := c.client.Del(ctx, cacheKey(network)).Err(); err != nil {
		return fmt.Errorf("delete cached rates: %w", err)
	}

	return nil
}

func cacheKey(network domain.Network) string {
	return fmt.Sprintf("rates:%s", network)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
