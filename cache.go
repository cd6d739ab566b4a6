package strata

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/syssam/strata/internal/lru"
)

// Cache is the interface of the byte cache used to share compiled
// statements between processes or engines. Users can implement it with
// their preferred caching solution (e.g., Redis, Memcached); MemoryCache is
// an in-process implementation.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// MemoryCache is an LRU Cache held in process memory.
type MemoryCache struct {
	mu  sync.Mutex
	lru *lru.Cache
	now func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

func (e *memoryEntry) Len() int { return len(e.value) }

// NewMemoryCache returns a cache bounded by maxBytes (keys and values) and
// maxEntries. Zero means unbounded.
func NewMemoryCache(maxBytes int64, maxEntries int) *MemoryCache {
	return &MemoryCache{
		lru: lru.New(maxBytes, maxEntries, nil),
		now: time.Now,
	}
}

// Get implements the Cache interface.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, nil
	}
	e := v.(*memoryEntry)
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.lru.Remove(key)
		return nil, nil
	}
	return e.value, nil
}

// Set implements the Cache interface.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, e)
	return nil
}

// Delete implements the Cache interface.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
	return nil
}

// DeletePrefix implements the Cache interface.
func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
	return nil
}

// Clear implements the Cache interface.
func (c *MemoryCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Clear()
	return nil
}

// Len returns the number of cached values.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

var _ Cache = (*MemoryCache)(nil)
