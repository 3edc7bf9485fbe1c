package trend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/elonfeng/shoptrend/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Ranker computes a ranking for a reference instant.
type Ranker interface {
	Rank(ctx context.Context, now time.Time, opts Options) (*Ranking, error)
}

// maxCacheEntries bounds how many option sets the cache holds at once.
// Options come from request parameters, so the key space is caller chosen.
const maxCacheEntries = 64

type cacheEntry struct {
	ranking    *Ranking
	computedAt time.Time
}

// Cache serves rankings computed at most ttl ago, keyed by options. A zero
// ttl disables caching. Returned rankings are shared and must not be
// modified by callers.
type Cache struct {
	ranker  Ranker
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Registry

	mu      sync.Mutex
	entries map[Options]cacheEntry
	group   singleflight.Group
}

// NewCache wraps ranker with a ttl-bounded cache.
func NewCache(ranker Ranker, ttl time.Duration, m *metrics.Registry) *Cache {
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Cache{
		ranker:  ranker,
		ttl:     ttl,
		now:     time.Now,
		metrics: m,
		entries: make(map[Options]cacheEntry),
	}
}

// Get returns the ranking for opts as of the current time, reusing a cached
// one while it is younger than the ttl.
func (c *Cache) Get(ctx context.Context, opts Options) (*Ranking, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	now := c.now()
	if c.ttl <= 0 {
		return c.ranker.Rank(ctx, now, opts)
	}

	if r, ok := c.lookup(opts, now); ok {
		c.metrics.CacheHits.Inc()
		return r, nil
	}
	c.metrics.CacheMisses.Inc()

	v, err, _ := c.group.Do(fmt.Sprintf("%+v", opts), func() (any, error) {
		r, err := c.ranker.Rank(ctx, now, opts)
		if err != nil {
			return nil, err
		}
		c.store(opts, cacheEntry{ranking: r, computedAt: now})
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Ranking), nil
}

// Refresh recomputes the ranking for opts regardless of cache state.
func (c *Cache) Refresh(ctx context.Context, opts Options) (*Ranking, error) {
	c.Invalidate()
	return c.Get(ctx, opts)
}

// Invalidate drops every cached ranking.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Options]cacheEntry)
}

// store adds an entry after dropping expired ones. When the cache is still
// full the oldest entry is evicted.
func (c *Cache) store(opts Options, entry cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		oldestKey Options
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if entry.computedAt.Sub(e.computedAt) >= c.ttl {
			delete(c.entries, k)
			continue
		}
		if !found || e.computedAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.computedAt, true
		}
	}
	if _, ok := c.entries[opts]; !ok && found && len(c.entries) >= maxCacheEntries {
		delete(c.entries, oldestKey)
	}
	c.entries[opts] = entry
}

// size reports the number of cached option sets.
func (c *Cache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookup(opts Options, now time.Time) (*Ranking, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[opts]
	if !ok {
		return nil, false
	}
	if now.Sub(entry.computedAt) >= c.ttl {
		delete(c.entries, opts)
		return nil, false
	}
	return entry.ranking, true
}
