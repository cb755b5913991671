package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alekb/botesq/internal/domain"
)

func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisHealthCache keeps last-observed provider health under a TTL so routing
// probes and health queries do not hammer provider webhooks.
type RedisHealthCache struct {
	client *redis.Client
}

func NewRedisHealthCache(client *redis.Client) *RedisHealthCache {
	return &RedisHealthCache{client: client}
}

func healthKey(providerID string) string {
	return "dispatch:provider-health:" + providerID
}

func (c *RedisHealthCache) Put(ctx context.Context, providerID string, health domain.ProviderHealth, ttl time.Duration) error {
	raw, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("encode provider health: %w", err)
	}
	return c.client.Set(ctx, healthKey(providerID), raw, ttl).Err()
}

func (c *RedisHealthCache) Get(ctx context.Context, providerID string) (*domain.ProviderHealth, error) {
	raw, err := c.client.Get(ctx, healthKey(providerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var health domain.ProviderHealth
	if err := json.Unmarshal(raw, &health); err != nil {
		return nil, fmt.Errorf("decode provider health: %w", err)
	}
	return &health, nil
}
