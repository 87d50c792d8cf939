package openrouter

import (
	"sync"
	"time"

	"github.com/j-veylop/openrouter-monitor/internal/models"
)

// cacheEntry pairs a fetched status with its insertion time.
type cacheEntry struct {
	value      *models.UpstreamStatus
	insertedAt time.Time
}

// ttlCache is a small per-key cache bounding upstream call rate. Entries
// are only replaced on successful fetches, so a failed refresh leaves
// stale-but-valid data servable to later non-forced calls.
type ttlCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// get returns the cached value for key if it is within the TTL.
func (c *ttlCache) get(key string) (*models.UpstreamStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.insertedAt) >= c.ttl {
		return nil, false
	}
	return entry.value, true
}

// set stores value for key with a fresh insertion timestamp.
func (c *ttlCache) set(key string, value *models.UpstreamStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, insertedAt: c.now()}
}
