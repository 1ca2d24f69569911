// Package ristretto implements the cache port with an in-process
// dgraph-io/ristretto cache, used as L1 for sealed artifacts.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// avgArtifactBytes sizes the admission counters; most payloads are small
// score or lifecycle documents.
const avgArtifactBytes = 2 << 10

// Cache wraps a ristretto cache. Writes are applied asynchronously by
// ristretto; call Wait when a subsequent Get must observe them.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache bounded to maxSizeMB megabytes of values.
func New(maxSizeMB int64) (*Cache, error) {
	if maxSizeMB <= 0 {
		return nil, fmt.Errorf("ristretto: max size must be positive, got %d MB", maxSizeMB)
	}
	maxCost := maxSizeMB << 20
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxCost/avgArtifactBytes*10, 1000),
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Cache{c: c}, nil
}

// Get retrieves a value.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value, costed by its length. A ttl of zero never expires.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

// Delete removes a value.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Wait blocks until buffered writes are applied.
func (c *Cache) Wait() { c.c.Wait() }

// HitRatio reports the fraction of Gets served from the cache.
func (c *Cache) HitRatio() float64 { return c.c.Metrics.Ratio() }

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
