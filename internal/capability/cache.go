package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the control plane's shared get/set/flush surface — distinct
// from internal/health.CacheStore, which only reads memory/hit-ratio
// stats for probing. Backs internal/recovery's ClearCacheExecutor and any
// component that memoizes fleet-wide state (e.g. the fusion dedupe set
// across process restarts).
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	FlushAll(ctx context.Context) error
	Stats(ctx context.Context) (map[string]string, error)
}

// RedisCache is the production Cache, grounded on
// check_redis_health's go-redis usage generalized from health-probing to
// a general-purpose key/value surface.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an already-configured *redis.Client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache del %s: %w", key, err)
	}
	return nil
}

// FlushAll implements recovery.CacheFlusher against the whole keyspace,
// grounded on clear_cache's redis "flushdb" branch.
func (c *RedisCache) FlushAll(ctx context.Context) error {
	if err := c.client.FlushAll(ctx).Err(); err != nil {
		return fmt.Errorf("cache flush all: %w", err)
	}
	return nil
}

func (c *RedisCache) Stats(ctx context.Context) (map[string]string, error) {
	info, err := c.client.Info(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	return map[string]string{"info": info}, nil
}

// Flush adapts RedisCache to recovery.CacheFlusher: target selects
// between flushing a single key (when a device ID is given) or the whole
// keyspace (the catch-all target used by the probe-driven ClearCache
// action).
func (c *RedisCache) Flush(ctx context.Context, target string) error {
	if target == "" || target == "*" {
		return c.FlushAll(ctx)
	}
	return c.Del(ctx, target)
}
