package memory

import (
	"context"
	"sync"
)

// Cache implements ports.Cache in memory. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]map[string]any
}

// NewCache creates a new in-memory result cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]map[string]any)}
}

// Get looks up the memoized outputs for key.
func (c *Cache) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	outputs, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	cp := make(map[string]any, len(outputs))
	for k, v := range outputs {
		cp[k] = v
	}
	return cp, true, nil
}

// Set stores the outputs under key.
func (c *Cache) Set(ctx context.Context, key string, outputs map[string]any) error {
	cp := make(map[string]any, len(outputs))
	for k, v := range outputs {
		cp[k] = v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cp
	return nil
}
