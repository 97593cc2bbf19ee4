package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a string-keyed Cache backed by a shared Redis instance,
// suitable for deployments where multiple service instances should see the
// same cached values.
type RedisCache[V any] struct {
	client    *redis.Client
	keyPrefix string
	timeout   time.Duration
}

// NewRedisCache wraps an existing Redis client. The keyPrefix namespaces
// entries so multiple caches can share one instance.
func NewRedisCache[V any](client *redis.Client, keyPrefix string) *RedisCache[V] {
	return &RedisCache[V]{
		client:    client,
		keyPrefix: keyPrefix,
		timeout:   2 * time.Second,
	}
}

// Get returns a cached value if present. Transport or decode failures are
// reported as cache misses.
func (c *RedisCache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil || c.client == nil {
		return zero, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	raw, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		return zero, false
	}
	var value V
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, false
	}
	return value, true
}

// Set stores a value with the provided TTL. Failures are silently dropped;
// the cache is an optimization, not a system of record.
func (c *RedisCache[V]) Set(key string, value V, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	_ = c.client.Set(ctx, c.keyPrefix+key, raw, ttl).Err()
}

// Delete removes a cached entry.
func (c *RedisCache[V]) Delete(key string) {
	if c == nil || c.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	_ = c.client.Del(ctx, c.keyPrefix+key).Err()
}

// DeleteFunc scans the namespace and removes every key matching the
// predicate. The predicate sees keys without the namespace prefix.
func (c *RedisCache[V]) DeleteFunc(match func(key string) bool) {
	if c == nil || c.client == nil || match == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		key := full[len(c.keyPrefix):]
		if match(key) {
			_ = c.client.Del(ctx, full).Err()
		}
	}
}
