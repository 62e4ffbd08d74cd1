// Package cache holds short-lived response caches and per-address locks.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache abstracts the key/value operations used by the analysis flow.
type Cache interface {
	Set(ctx context.Context, key, value string, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	// SetNX stores value only if key does not exist and reports whether it did.
	SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error)
	// CompareAndDelete removes key only while it still holds value and
	// reports whether it did.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// RedisCache is a concrete implementation backed by go-redis. It is shared by
// every instance pointing at the same Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return value, err
}

// Delete removes a key from Redis.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// SetNX writes a value only when the key is free.
func (c *RedisCache) SetNX(ctx context.Context, key, value string, expiration time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, expiration).Result()
}

var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CompareAndDelete runs GET and DEL atomically on the server.
func (c *RedisCache) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, c.client, []string{key}, value).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MemoryCache keeps entries in process memory. Locks taken through it only
// serialise requests handled by this process.
type MemoryCache struct {
	// mu orders SetNX against CompareAndDelete.
	mu    sync.Mutex
	store *gocache.Cache
}

// NewMemoryCache creates an in-process cache that purges expired entries
// every cleanupInterval.
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{store: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key, value string, expiration time.Duration) error {
	c.store.Set(key, value, ttl(expiration))
	return nil
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (string, error) {
	value, found := c.store.Get(key)
	if !found {
		return "", ErrMiss
	}
	s, ok := value.(string)
	if !ok {
		return "", ErrMiss
	}
	return s, nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

// SetNX implements Cache.
func (c *MemoryCache) SetNX(_ context.Context, key, value string, expiration time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Add(key, value, ttl(expiration)); err != nil {
		return false, nil
	}
	return true, nil
}

// CompareAndDelete implements Cache.
func (c *MemoryCache) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, found := c.store.Get(key)
	if !found || current != value {
		return false, nil
	}
	c.store.Delete(key)
	return true, nil
}

func ttl(d time.Duration) time.Duration {
	if d <= 0 {
		return gocache.NoExpiration
	}
	return d
}
