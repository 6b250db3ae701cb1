package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCachePrefix = "reelgen:balance:"

// RedisBalanceCache stores derived balances in Redis with a TTL.
type RedisBalanceCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisBalanceCache(client *redis.Client, ttl time.Duration) *RedisBalanceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisBalanceCache{client: client, prefix: defaultCachePrefix, ttl: ttl}
}

func (c *RedisBalanceCache) Get(ctx context.Context, ownerID string) (int64, bool, error) {
	v, err := c.client.Get(ctx, c.key(ownerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (c *RedisBalanceCache) Set(ctx context.Context, ownerID string, balance int64) error {
	return c.client.Set(ctx, c.key(ownerID), balance, c.ttl).Err()
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, ownerID string) error {
	return c.client.Del(ctx, c.key(ownerID)).Err()
}

func (c *RedisBalanceCache) key(ownerID string) string {
	return c.prefix + ownerID
}

var _ BalanceCache = (*RedisBalanceCache)(nil)
