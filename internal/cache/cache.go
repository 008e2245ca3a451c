package cache

import (
	"context"
	"sync"
	"time"

	"github.com/twweather/tempmap/internal/models"
)

// ReadingsKey is the cache key for the full readings snapshot.
const ReadingsKey = "readings"

// Cache stores reading snapshots for dashboard queries. Get returns the
// snapshot if present and not expired, Set stores one with a TTL, Delete
// invalidates after a refresh rewrites the store.
type Cache interface {
	Get(ctx context.Context, key string) ([]models.TemperatureReading, bool, error)
	Set(ctx context.Context, key string, value []models.TemperatureReading, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// InMemoryCache implements Cache with a mutex-guarded map and TTL-based
// expiration. Expired entries are removed on access.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
}

type cacheEntry struct {
	value     []models.TemperatureReading
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves the cached snapshot for the key if present and not expired.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]models.TemperatureReading, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set stores a snapshot with the specified TTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []models.TemperatureReading, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Delete removes a snapshot. Deleting a missing key is not an error.
func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
