// Package cache keeps rendered catalog responses in memory so repeated view
// listings skip the database until the catalog changes.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry holds a cached value with its expiration time.
type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Stats counts cache lookups.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Evicted uint64 `json:"evicted"`
	Size    int    `json:"size"`
}

// LRUCache is a thread-safe in-memory cache with TTL and max-size eviction.
// When full, the least recently read or written entry is evicted. Expired
// entries are lazily evicted on Get.
type LRUCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	maxSize int
	ttl     time.Duration
	stats   Stats
	gen     uint64 // bumped by every invalidation
}

// NewLRUCache creates a cache holding at most maxSize entries for ttl each.
// maxSize below 1 becomes 1; a non-positive ttl becomes DefaultTTL.
func NewLRUCache(maxSize int, ttl time.Duration) *LRUCache {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LRUCache{
		items:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the value under key and marks it recently used. It returns
// (nil, false) if the key is missing or expired.
func (c *LRUCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	e := el.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.remove(el)
		c.stats.Misses++
		return nil, false
	}

	c.order.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Generation returns a counter that changes on every Invalidate and
// InvalidateAll. Pass it to SetIfGeneration to store a value computed
// before an invalidation could have happened.
func (c *LRUCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Set stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *LRUCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value)
}

// SetIfGeneration stores value only if no invalidation happened since gen
// was read. It reports whether the value was stored.
func (c *LRUCache) SetIfGeneration(key string, value []byte, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.set(key, value)
	return true
}

// set must be called with c.mu held.
func (c *LRUCache) set(key string, value []byte) {
	expiresAt := time.Now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
			c.stats.Evicted++
		}
	}

	c.items[key] = c.order.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
}

// Invalidate removes key from the cache.
func (c *LRUCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
}

// InvalidateAll removes every entry.
func (c *LRUCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.items = make(map[string]*list.Element, c.maxSize)
	c.order.Init()
}

// Size returns the number of entries, including expired ones not yet
// evicted.
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the lookup counters.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.order.Len()
	return s
}

// remove must be called with c.mu held.
func (c *LRUCache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}
