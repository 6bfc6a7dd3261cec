// Package preset keeps derived preset metadata shared by every render loop in
// the process.
package preset

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Metadata is the derived, cacheable description of a preset file.
type Metadata struct {
	Name         string
	PaletteIndex int
	LastModified time.Time
	RefCount     int
}

// Cache is a reference-counted metadata cache keyed by preset path.
//
// One Cache is created by the process and handed to every loop that should
// share it. An entry exists only while its RefCount is positive: the release
// that brings it to zero removes it immediately. A single mutex serializes
// every operation; preset switches happen at human pace and never on the
// audio path.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Metadata
	log     zerolog.Logger

	// compute derives metadata for a path that is not cached yet.
	compute func(path string) Metadata
}

// NewCache creates an empty cache.
func NewCache(log zerolog.Logger) *Cache {
	return &Cache{
		entries: make(map[string]Metadata),
		log:     log,
		compute: Compute,
	}
}

// Get returns the entry for key.
func (c *Cache) Get(key string) (Metadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[key]
	return m, ok
}

// Upsert replaces the metadata of key. A present entry keeps its RefCount.
// An absent key is inserted with meta.RefCount, and nothing is stored when
// that count is not positive. It reports whether an entry was written.
func (c *Cache) Upsert(key string, meta Metadata) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		meta.RefCount = existing.RefCount
		c.entries[key] = meta
		return true
	}
	if meta.RefCount <= 0 {
		return false
	}
	c.entries[key] = meta
	return true
}

// AddRef takes a reference on key, computing and inserting its metadata with
// RefCount 1 when absent. It returns the entry after the increment.
func (c *Cache) AddRef(key string) Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[key]
	if !ok {
		m = c.compute(key)
		m.RefCount = 1
		c.entries[key] = m
		c.log.Debug().Str("path", key).Int("ref_count", 1).Msg("cache addRef (new)")
		return m
	}
	m.RefCount++
	c.entries[key] = m
	c.log.Debug().Str("path", key).Int("ref_count", m.RefCount).Msg("cache addRef")
	return m
}

// Release drops a reference on key and removes the entry when the count
// reaches zero. Releasing an absent key is a no-op.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[key]
	if !ok {
		return
	}
	m.RefCount--
	if m.RefCount <= 0 {
		delete(c.entries, key)
		c.log.Debug().Str("path", key).Msg("cache release (evict)")
		return
	}
	c.entries[key] = m
	c.log.Debug().Str("path", key).Int("ref_count", m.RefCount).Msg("cache release")
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the cached paths, sorted.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
