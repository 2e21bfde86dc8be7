package common

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ CacheRepository = (*RedisCache)(nil)

// RedisCache is a CacheRepository backed by Redis. Failures are logged and
// reported as cache misses so a degraded cache never fails a request.
type RedisCache struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	logger  Logger
}

// NewRedisCache keys every entry under prefix.
func NewRedisCache(client redis.UniversalClient, prefix string, logger Logger) *RedisCache {
	if logger == nil {
		logger = NopLogger()
	}
	return &RedisCache{
		client:  client,
		prefix:  prefix,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

func (r *RedisCache) key(k string) string {
	return r.prefix + k
}

func (r *RedisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		r.logger.Warn(ctx, "redis cache get failed", "key", key, "error", err)
		return nil, false
	}
	return data, true
}

func (r *RedisCache) Set(key string, value []byte, expiration time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.key(key), value, expiration).Err(); err != nil {
		r.logger.Warn(ctx, "redis cache set failed", "key", key, "error", err)
	}
}

func (r *RedisCache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.logger.Warn(ctx, "redis cache delete failed", "key", key, "error", err)
	}
}
