package cache

import (
	"container/list"
	"sync"

	"github.com/devrev/omnistore/internal/model"
	"go.uber.org/zap"
)

// EvictFunc is invoked synchronously when an entry is evicted, before its
// slot is reused. It is not called for explicit Invalidate or Clear.
type EvictFunc func(key string, value model.Record)

// LRU is a bounded in-memory record cache with least-recently-used eviction.
// The cache is a pure accelerator: losing its contents never affects
// correctness, only latency. All operations are O(1).
type LRU struct {
	maxEntries int
	onEvict    EvictFunc
	logger     *zap.Logger

	mu        sync.Mutex
	entries   map[string]*list.Element
	order     *list.List // front = most recently used
	hits      uint64
	misses    uint64
	evictions uint64
}

type lruEntry struct {
	key   string
	value model.Record
}

// New creates an LRU cache holding at most maxEntries records. A maxEntries
// of zero disables caching entirely.
func New(maxEntries int, onEvict EvictFunc, logger *zap.Logger) *LRU {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LRU{
		maxEntries: maxEntries,
		onEvict:    onEvict,
		logger:     logger,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Get retrieves a record, marking it as recently used
func (c *LRU) Get(key string) (model.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, found := c.entries[key]
	if !found {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(elem)
	return elem.Value.(*lruEntry).value, true
}

// Put stores a record, evicting the least-recently-used entry on overflow
func (c *LRU) Put(key string, value model.Record) {
	if c.maxEntries == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, found := c.entries[key]; found {
		elem.Value.(*lruEntry).value = value
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.maxEntries {
		c.evictOldest()
	}

	c.entries[key] = c.order.PushFront(&lruEntry{key: key, value: value})
}

// Invalidate removes a key without firing the eviction callback
func (c *LRU) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, found := c.entries[key]
	if !found {
		return false
	}
	c.order.Remove(elem)
	delete(c.entries, key)
	return true
}

// Clear drops every entry without firing the eviction callback
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Keys returns all cached keys, most recently used first
func (c *LRU) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruEntry).key)
	}
	return keys
}

// Len returns the current number of cached entries
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// evictOldest removes the least-recently-used entry. Caller holds c.mu.
func (c *LRU) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*lruEntry)
	c.order.Remove(elem)
	delete(c.entries, entry.key)
	c.evictions++

	if c.onEvict != nil {
		// A misbehaving callback must not poison the cache
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Eviction callback panicked",
						zap.String("key", entry.key),
						zap.Any("panic", r))
				}
			}()
			c.onEvict(entry.key, entry.value)
		}()
	}

	c.logger.Debug("Evicted cache entry", zap.String("key", entry.key))
}

// Stats returns cache statistics
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:    c.order.Len(),
		MaxEntries: c.maxEntries,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
	}
}

// Stats holds cache statistics
type Stats struct {
	Entries    int
	MaxEntries int
	Hits       uint64
	Misses     uint64
	Evictions  uint64
}

// HitRatio returns the fraction of lookups served from cache
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
