// Package ristretto implements the cache port with an in-process
// dgraph-io/ristretto cache, used for last-known-good disaster events.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache adapts a ristretto cache to the byte-oriented cache port. Every
// entry carries a TTL so stale events age out even if the engine never
// overwrites them.
type Cache struct {
	c          *ristretto.Cache[string, []byte]
	defaultTTL time.Duration
}

// New creates a cache bounded to maxCostBytes of stored values. Entries
// stored without an explicit TTL expire after defaultTTL.
func New(maxCostBytes int64, defaultTTL time.Duration) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, defaultTTL: defaultTTL}, nil
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value under key. A non-positive ttl falls back to the cache's
// default.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

// Delete drops key from the cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Wait blocks until buffered writes have been applied. Reads issued after
// Wait observe every Set that preceded it.
func (c *Cache) Wait() {
	c.c.Wait()
}

// Close releases the cache resources.
func (c *Cache) Close() {
	c.c.Close()
}
