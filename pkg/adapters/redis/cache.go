package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// Cache implements ports.Cache on Redis, for node result memoization shared
// across engine processes.
type Cache struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type CacheOption func(*Cache)

// WithCacheTTL sets the expiration for cache entries. Zero means no expiration.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithCachePrefix sets the key prefix for cache entries.
func WithCachePrefix(prefix string) CacheOption {
	return func(c *Cache) {
		c.prefix = prefix
	}
}

// NewCache creates a result cache from an existing client.
func NewCache(client *backend.Client, opts ...CacheOption) *Cache {
	cache := &Cache{
		client: client,
		prefix: "sluice:cache:",
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache
}

// Get looks up the memoized outputs for key.
func (c *Cache) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	var outputs map[string]any
	if err := json.Unmarshal([]byte(val), &outputs); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return outputs, true, nil
}

// Set stores the outputs under key.
func (c *Cache) Set(ctx context.Context, key string, outputs map[string]any) error {
	data, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}
