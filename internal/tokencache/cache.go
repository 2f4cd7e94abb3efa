// Package tokencache provides a bounded memo of per-message token costs.
//
// The cache is purely an optimization: entries may be evicted at any time and
// lookups that miss are recomputed by the caller. It is safe for concurrent
// use without holding the owning session's lock, since values are
// content-addressed and computing one twice is harmless.
package tokencache

import "sync"

const defaultCapacity = 256

// Cache is a fixed-capacity first-in-first-out token-count cache.
type Cache struct {
	mu       sync.Mutex
	capacity int
	values   map[string]int
	order    []string
}

// New creates a cache holding at most capacity entries.
// Non-positive capacities fall back to the default.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Cache{
		capacity: capacity,
		values:   make(map[string]int, capacity),
	}
}

// Get returns the cached token count for key, if present.
func (c *Cache) Get(key string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tokens, ok := c.values[key]
	return tokens, ok
}

// Set records the token count for key, evicting the oldest entry when full.
func (c *Cache) Set(key string, tokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.values[key]; exists {
		c.values[key] = tokens
		return
	}

	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.values, oldest)
	}
	c.values[key] = tokens
	c.order = append(c.order, key)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

// Reset drops all entries.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]int, c.capacity)
	c.order = nil
}
