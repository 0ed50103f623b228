package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "finnprep:manifest:"

// RedisCache keeps manifests in Redis so repeated runs and parallel workers
// skip the archive listing. Redis errors are logged and treated as misses.
type RedisCache struct {
	rc     *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// OpenRedis returns a client for addr, or nil when addr is empty.
func OpenRedis(addr string) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr})
}

// NewRedisCache creates a Redis manifest cache. ttl <= 0 means one day.
func NewRedisCache(rc *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rc: rc, ttl: ttl, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Manifest, bool) {
	s, err := c.rc.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("redis manifest lookup failed", "key", key, "error", err)
		}
		return Manifest{}, false
	}
	var m Manifest
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		c.logger.Warn("discarding undecodable cached manifest", "key", key, "error", err)
		return Manifest{}, false
	}
	return m, true
}

func (c *RedisCache) Set(ctx context.Context, key string, m Manifest) {
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := c.rc.Set(ctx, redisKeyPrefix+key, string(b), c.ttl).Err(); err != nil {
		c.logger.Warn("redis manifest store failed", "key", key, "error", err)
	}
}
