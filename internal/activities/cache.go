package activities

import (
	"context"
	"sync"
	"time"

	"github.com/activitycal/backend/internal/models"
)

type cacheEntry struct {
	activities []models.Activity
	expires    time.Time
}

// CachingSource wraps another Source with a TTL-based in-memory cache keyed by
// access secret, so a rotated secret never reads a previous window.
type CachingSource struct {
	base Source
	ttl  time.Duration

	// NowFunc overrides the clock in tests.
	NowFunc func() time.Time

	mu    sync.RWMutex
	items map[string]cacheEntry
}

// NewCachingSource returns a Source that caches windows for the provided TTL.
func NewCachingSource(base Source, ttl time.Duration) *CachingSource {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachingSource{
		base:  base,
		ttl:   ttl,
		items: make(map[string]cacheEntry),
	}
}

// Recent returns a cached window when available, otherwise it delegates to the
// underlying source and stores the result. Failures are never cached.
func (c *CachingSource) Recent(ctx context.Context, accessSecret string) ([]models.Activity, error) {
	if c == nil || c.base == nil {
		return nil, ErrSourceUnavailable
	}

	now := c.now()

	c.mu.RLock()
	entry, ok := c.items[accessSecret]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.activities, nil
	}

	list, err := c.base.Recent(ctx, accessSecret)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for key, e := range c.items {
		if !now.Before(e.expires) {
			delete(c.items, key)
		}
	}
	c.items[accessSecret] = cacheEntry{activities: list, expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return list, nil
}

// Len reports the number of cached windows.
func (c *CachingSource) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *CachingSource) now() time.Time {
	if c.NowFunc != nil {
		return c.NowFunc()
	}
	return time.Now()
}
