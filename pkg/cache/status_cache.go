// Package cache provides sort status caching for pairsort.
//
// Computing a status replays the whole sort against the order graph, which is
// cheap for small lists but adds up when many clients poll the same list.
// Entries are keyed by a content digest of everything the result depends on,
// so a cached status can never be stale: any new decision changes the key.
//
// Features:
// - LRU eviction for bounded memory
// - TTL expiration
// - Thread-safe operations
// - Concurrent identical computations collapsed into one
// - Cache hit/miss statistics
//
// Usage:
//
//	cache := NewStatusCache(1000, 5*time.Minute)
//
//	key := Digest(engine, items, graph)
//	status, _ := cache.GetOrCompute(key, func() order.SortStatus {
//		return engine.Sort(graph, items)
//	})
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/orneryd/pairsort/pkg/order"
)

// StatusCache is a thread-safe LRU cache of computed sort statuses.
//
// The cache uses:
// - Hash map for O(1) lookups
// - Doubly-linked list for LRU ordering
// - TTL for automatic expiration
// - singleflight so concurrent misses on one key compute once
type StatusCache struct {
	mu sync.Mutex

	// Configuration
	maxSize int
	ttl     time.Duration
	enabled bool

	// LRU list and map
	list  *list.List
	items map[string]*list.Element

	flight singleflight.Group

	// Statistics
	hits      uint64
	misses    uint64
	evictions uint64
}

// cacheEntry holds a cached item with metadata.
type cacheEntry struct {
	key       string
	value     order.SortStatus
	expiresAt time.Time
}

// NewStatusCache creates a new status cache.
//
// Parameters:
//   - maxSize: Maximum number of cached statuses (LRU eviction when exceeded)
//   - ttl: Time-to-live for cached entries (0 = no expiration)
func NewStatusCache(maxSize int, ttl time.Duration) *StatusCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &StatusCache{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		list:    list.New(),
		items:   make(map[string]*list.Element, maxSize),
	}
}

// Get retrieves a cached status if present and not expired.
//
// Moves the entry to front of LRU list on hit. The returned status is a copy.
func (c *StatusCache) Get(key string) (order.SortStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		atomic.AddUint64(&c.misses, 1)
		return order.SortStatus{}, false
	}

	elem, ok := c.items[key]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return order.SortStatus{}, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		atomic.AddUint64(&c.misses, 1)
		return order.SortStatus{}, false
	}

	c.list.MoveToFront(elem)
	atomic.AddUint64(&c.hits, 1)
	return cloneStatus(entry.value), true
}

// Put adds a status to the cache.
//
// If the cache is full, the least recently used entry is evicted.
// If the key already exists, the value is updated and its TTL refreshed.
func (c *StatusCache) Put(key string, value order.SortStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}

	value = cloneStatus(value)
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		if c.ttl > 0 {
			entry.expiresAt = time.Now().Add(c.ttl)
		}
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{key: key, value: value}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.items[key] = c.list.PushFront(entry)
}

// GetOrCompute returns the cached status for key, computing and storing it on
// a miss. Concurrent callers missing on the same key share one computation.
// The boolean reports whether the value came from the cache.
func (c *StatusCache) GetOrCompute(key string, compute func() order.SortStatus) (order.SortStatus, bool) {
	if status, ok := c.Get(key); ok {
		return status, true
	}

	v, _, _ := c.flight.Do(key, func() (interface{}, error) {
		status := compute()
		c.Put(key, status)
		return status, nil
	})
	return cloneStatus(v.(order.SortStatus)), false
}

// Remove removes an entry from the cache.
func (c *StatusCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries from the cache.
func (c *StatusCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list.Init()
	c.items = make(map[string]*list.Element, c.maxSize)
}

// Len returns the number of cached entries.
func (c *StatusCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats returns cache statistics.
func (c *StatusCache) Stats() CacheStats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	size := c.Len()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return CacheStats{
		Size:      size,
		MaxSize:   c.maxSize,
		Hits:      hits,
		Misses:    misses,
		Evictions: atomic.LoadUint64(&c.evictions),
		HitRate:   hitRate,
	}
}

// CacheStats holds cache performance statistics.
type CacheStats struct {
	Size      int     `json:"size"`      // Current number of entries
	MaxSize   int     `json:"maxSize"`   // Maximum capacity
	Hits      uint64  `json:"hits"`      // Number of cache hits
	Misses    uint64  `json:"misses"`    // Number of cache misses
	Evictions uint64  `json:"evictions"` // Entries dropped by LRU pressure
	HitRate   float64 `json:"hitRate"`   // Hit rate percentage (0-100)
}

// SetEnabled enables or disables the cache. Disabling drops every entry;
// GetOrCompute then always computes.
func (c *StatusCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled

	if !enabled {
		c.list.Init()
		c.items = make(map[string]*list.Element, c.maxSize)
	}
}

// evictOldest removes the least recently used entry.
// Caller must hold the lock.
func (c *StatusCache) evictOldest() {
	elem := c.list.Back()
	if elem != nil {
		c.removeElement(elem)
		atomic.AddUint64(&c.evictions, 1)
	}
}

// removeElement removes an element from the cache.
// Caller must hold the lock.
func (c *StatusCache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}

func cloneStatus(s order.SortStatus) order.SortStatus {
	out := order.SortStatus{
		Done:             s.Done,
		Sorted:           cloneStrings(s.Sorted),
		IncompleteSorted: cloneStrings(s.IncompleteSorted),
		NotSorted:        cloneStrings(s.NotSorted),
	}
	if s.Comparison != nil {
		c := *s.Comparison
		out.Comparison = &c
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}
