package forecast

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/star/driftcast/internal/metrics"
	"github.com/star/driftcast/internal/wind"
)

// MemoryCache holds parsed profiles in an expiring LRU.
type MemoryCache struct {
	lru      *expirable.LRU[string, *wind.Profile]
	capacity int
	ttl      time.Duration

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// CacheStats is a point-in-time view of MemoryCache counters.
type CacheStats struct {
	Entries    int     `json:"entries"`
	Capacity   int     `json:"capacity"`
	TTLSeconds float64 `json:"ttl_seconds"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
}

// NewMemoryCache creates a cache of at most size profiles, each kept for ttl.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 512
	}
	c := &MemoryCache{capacity: size, ttl: ttl}
	c.lru = expirable.NewLRU[string, *wind.Profile](size, func(string, *wind.Profile) {
		c.evictions.Add(1)
		metrics.IncCacheEvictions()
	}, ttl)
	return c
}

func (c *MemoryCache) Get(key string) (*wind.Profile, bool) {
	p, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
		metrics.IncCacheHit("memory")
	} else {
		c.misses.Add(1)
		metrics.IncCacheMiss("memory")
	}
	return p, ok
}

func (c *MemoryCache) Add(key string, p *wind.Profile) {
	c.lru.Add(key, p)
}

// Purge drops every entry.
func (c *MemoryCache) Purge() {
	c.lru.Purge()
}

func (c *MemoryCache) Stats() CacheStats {
	return CacheStats{
		Entries:    c.lru.Len(),
		Capacity:   c.capacity,
		TTLSeconds: c.ttl.Seconds(),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
	}
}
