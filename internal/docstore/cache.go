package docstore

import (
	"sync"
	"time"

	"github.com/playerdb/playerdb/internal/records"
)

type cacheEntry struct {
	doc        records.Doc
	insertedAt time.Time
}

// recordCache is a read-through TTL cache of decoded records. Entries are
// replaced synchronously inside the write section of every save, so a read
// after a committed write can never observe the previous value.
type recordCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[lockKey]cacheEntry
}

func newRecordCache(ttl time.Duration) *recordCache {
	return &recordCache{
		ttl:     ttl,
		entries: map[lockKey]cacheEntry{},
	}
}

// get returns a copy of the cached record while its TTL has not elapsed.
func (c *recordCache) get(key lockKey, now time.Time) (records.Doc, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || now.Sub(e.insertedAt) >= c.ttl {
		return nil, false
	}
	return e.doc.Clone(), true
}

// put stores a copy of doc, replacing any existing entry.
func (c *recordCache) put(key lockKey, doc records.Doc, now time.Time) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{doc: doc.Clone(), insertedAt: now}
	c.mu.Unlock()
}

func (c *recordCache) drop(key lockKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// dropOwner removes every entry belonging to one entity.
func (c *recordCache) dropOwner(owner string) {
	c.mu.Lock()
	for key := range c.entries {
		if key.owner == owner {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// sweep removes expired entries and reports how many were removed. Bounds
// memory for entities that are read once and never touched again.
func (c *recordCache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, e := range c.entries {
		if now.Sub(e.insertedAt) >= c.ttl {
			delete(c.entries, key)
			n++
		}
	}
	return n
}
