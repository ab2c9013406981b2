// Package cache provides a Redis-backed key-value cache with TTL.
// This is part of the platform layer and contains no business logic.
package cache

import (
	"context"
	"errors"
	"time"

	gocache "github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Cache is the key-value store consumed by the idempotency guard and job
// result tracking.
type Cache interface {
	// Get loads key into dst. found is false on a cache miss.
	Get(ctx context.Context, key string, dst interface{}) (found bool, err error)
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Delete removes key.
	Delete(ctx context.Context, key string) error
}

// localCacheSize is the number of entries kept in the in-process TinyLFU tier.
const localCacheSize = 10000

// Options configures a RedisCache.
type Options struct {
	// LocalTTL enables an in-process TinyLFU tier in front of Redis when > 0.
	// Only use it for values that never change once written.
	LocalTTL time.Duration
}

// RedisCache implements Cache on top of go-redis/cache.
type RedisCache struct {
	cache *gocache.Cache
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client redis.UniversalClient, opts Options) *RedisCache {
	cacheOpts := &gocache.Options{Redis: client}
	if opts.LocalTTL > 0 {
		cacheOpts.LocalCache = gocache.NewTinyLFU(localCacheSize, opts.LocalTTL)
	}
	return &RedisCache{cache: gocache.New(cacheOpts)}
}

// Get implements Cache.
func (r *RedisCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	err := r.cache.Get(ctx, key, dst)
	if errors.Is(err, gocache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Set implements Cache.
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.cache.Set(&gocache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: value,
		TTL:   ttl,
	})
}

// Delete implements Cache.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	err := r.cache.Delete(ctx, key)
	if errors.Is(err, gocache.ErrCacheMiss) {
		return nil
	}
	return err
}

var _ Cache = (*RedisCache)(nil)
