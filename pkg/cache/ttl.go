package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/Suhridx/pump-dashboard/errors"
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a cache whose entries expire a fixed duration after Set.
type TTL[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	items   map[string]ttlEntry[V]
	now     func() time.Time
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
}

var _ Cache[int] = (*TTL[int])(nil)

// NewTTL creates a cache with the given time-to-live.
func NewTTL[V any](ttl time.Duration, options ...Option[V]) (*TTL[V], error) {
	if ttl <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: ttl must be positive, got %s", errors.ErrInvalidConfig, ttl),
			"cache", "NewTTL", "check ttl")
	}
	opts := applyOptions(options...)

	var metrics *cacheMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewTTL", "metrics registration")
		}
	}

	return &TTL[V]{
		ttl:     ttl,
		items:   make(map[string]ttlEntry[V]),
		now:     opts.now,
		stats:   NewStatistics(),
		metrics: metrics,
		evictFn: opts.evictCallback,
	}, nil
}

// Get returns a fresh value. An expired entry is removed and reported as a miss.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()

	if ok && c.now().Before(entry.expiresAt) {
		c.stats.hits.Add(1)
		c.metrics.recordHit()
		return entry.value, true
	}

	if ok {
		c.mu.Lock()
		// still the same stale entry
		if cur, still := c.items[key]; still && !c.now().Before(cur.expiresAt) {
			delete(c.items, key)
			c.evicted(1, len(c.items))
			if c.evictFn != nil {
				defer c.evictFn(key, cur.value)
			}
		}
		c.mu.Unlock()
	}

	c.stats.misses.Add(1)
	c.metrics.recordMiss()
	var zero V
	return zero, false
}

// Set stores value under key with a fresh expiry.
func (c *TTL[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = ttlEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	size := len(c.items)
	c.mu.Unlock()

	c.metrics.updateSize(size)
	return !exists, nil
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	entry, exists := c.items[key]
	if exists {
		delete(c.items, key)
		c.evicted(1, len(c.items))
	}
	c.mu.Unlock()

	if exists && c.evictFn != nil {
		c.evictFn(key, entry.value)
	}
	return exists, nil
}

// Clear removes every entry without running the eviction callback.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]ttlEntry[V])
	c.mu.Unlock()
	c.metrics.updateSize(0)
}

// Purge removes every expired entry and returns how many were dropped.
func (c *TTL[V]) Purge() int {
	now := c.now()
	expired := make(map[string]V)

	c.mu.Lock()
	for key, entry := range c.items {
		if !now.Before(entry.expiresAt) {
			expired[key] = entry.value
			delete(c.items, key)
		}
	}
	if len(expired) > 0 {
		c.evicted(len(expired), len(c.items))
	}
	c.mu.Unlock()

	if c.evictFn != nil {
		for key, value := range expired {
			c.evictFn(key, value)
		}
	}
	return len(expired)
}

// Size returns the number of stored entries.
func (c *TTL[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns the running statistics.
func (c *TTL[V]) Stats() *Statistics {
	return c.stats
}

// evicted must be called with mu held.
func (c *TTL[V]) evicted(n, size int) {
	c.stats.evictions.Add(int64(n))
	c.metrics.recordEviction(n)
	c.metrics.updateSize(size)
}
