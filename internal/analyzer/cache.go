package analyzer

import (
	"sync"

	"github.com/mailsteward/mailsteward/internal/model"
)

// Cache memoizes analyzer results for a single configuration generation.
// Entries written under a different version are never returned. Values are
// copied on the way in and out so callers cannot mutate cached state.
type Cache struct {
	mu      sync.RWMutex
	version string
	entries map[string]cacheEntry
}

type cacheEntry struct {
	version string
	result  model.AnalyzerResult
}

// NewCache returns an empty cache bound to the given analyzer version.
func NewCache(version string) *Cache {
	return &Cache{version: version, entries: make(map[string]cacheEntry)}
}

// Get returns the cached result for the key when its version matches.
func (c *Cache) Get(key string) (*model.AnalyzerResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.version != c.version {
		return nil, false
	}
	out := e.result
	return &out, true
}

// Put stores a copy of the result under the current version.
func (c *Cache) Put(key string, res *model.AnalyzerResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{version: c.version, result: *res}
}

// Len reports the number of stored entries, stale versions included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
