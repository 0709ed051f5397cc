package pipeline

import (
	"container/list"
	"sync"
	"time"

	"github.com/phrazzld/chatrelay/internal/generation"
)

type cacheEntry struct {
	key      string
	result   generation.Result
	storedAt time.Time
}

// ResponseCache maps payload fingerprints to their most recent successful
// result. Entries are kept in insertion order and the oldest is evicted once
// the cache grows past its capacity. Lookups do not reorder entries.
type ResponseCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	items    map[string]*list.Element
}

// NewResponseCache creates a cache holding at most capacity entries. A zero
// ttl means entries never expire.
func NewResponseCache(capacity int, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity+1),
	}
}

// Get returns the cached result for key if present and not expired at now.
func (c *ResponseCache) Get(key string, now time.Time) (generation.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return generation.Result{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && now.Sub(entry.storedAt) >= c.ttl {
		c.order.Remove(elem)
		delete(c.items, key)
		return generation.Result{}, false
	}
	return entry.result, true
}

// Put stores result under key and returns how many entries were evicted.
// Replacing an existing key keeps its original position.
func (c *ResponseCache) Put(key string, result generation.Result, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.result = result
		entry.storedAt = now
		return 0
	}

	c.items[key] = c.order.PushBack(&cacheEntry{key: key, result: result, storedAt: now})

	evicted := 0
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
		evicted++
	}
	return evicted
}

// Len returns the number of cached entries, expired ones included.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys returns the cached keys, oldest first.
func (c *ResponseCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*cacheEntry).key)
	}
	return keys
}

// Clear removes every entry.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element, c.capacity+1)
}
