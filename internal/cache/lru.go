package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/tensordb/internal/resource"
)

// LRU is a size-bounded least recently used cache. It is safe for concurrent use.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[K]*list.Element
	evictList *list.List

	sizeOf  func(V) int64
	onEvict func(K, V)
	rc      *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[K comparable, V any] struct {
	key   K
	value V
	size  int64
}

// Option configures an LRU.
type Option[K comparable, V any] func(*LRU[K, V])

// WithSizeFunc weighs entries; the default weight is 1 per entry.
func WithSizeFunc[K comparable, V any](fn func(V) int64) Option[K, V] {
	return func(c *LRU[K, V]) {
		c.sizeOf = fn
	}
}

// WithOnEvict registers a callback run for entries removed to make room,
// or by Delete, Invalidate or Purge. It runs without the cache lock held.
func WithOnEvict[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *LRU[K, V]) {
		c.onEvict = fn
	}
}

// WithController reserves entry sizes from the shared memory budget.
func WithController[K comparable, V any](rc *resource.Controller) Option[K, V] {
	return func(c *LRU[K, V]) {
		c.rc = rc
	}
}

// New creates an LRU holding at most capacity units.
func New[K comparable, V any](capacity int64, optFns ...Option[K, V]) *LRU[K, V] {
	c := &LRU[K, V]{
		capacity:  capacity,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
		sizeOf:    func(V) int64 { return 1 },
	}

	for _, fn := range optFns {
		fn(c)
	}

	return c
}

// Get returns a cached value and marks it as recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)

		return el.Value.(*entry[K, V]).value, true
	}

	c.misses.Add(1)

	var zero V

	return zero, false
}

// Peek returns a cached value without touching its recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		return el.Value.(*entry[K, V]).value, true
	}

	var zero V

	return zero, false
}

// Set caches value under key. It reports false when the value was not
// admitted because it exceeds the capacity or the memory budget.
func (c *LRU[K, V]) Set(key K, value V) bool {
	size := c.sizeOf(value)
	if size > c.capacity {
		c.Delete(key)
		return false
	}

	c.mu.Lock()

	var evicted []*entry[K, V]

	if el, ok := c.items[key]; ok {
		evicted = append(evicted, c.removeElement(el))
	}

	for c.size+size > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			break
		}

		evicted = append(evicted, c.removeElement(el))
	}

	admitted := c.rc.TryAcquireMemory(size)
	if admitted {
		c.items[key] = c.evictList.PushFront(&entry[K, V]{key: key, value: value, size: size})
		c.size += size
	}

	c.mu.Unlock()
	c.notify(evicted)

	return admitted
}

// Delete removes key.
func (c *LRU[K, V]) Delete(key K) bool {
	c.mu.Lock()

	el, ok := c.items[key]

	var evicted []*entry[K, V]
	if ok {
		evicted = append(evicted, c.removeElement(el))
	}

	c.mu.Unlock()
	c.notify(evicted)

	return ok
}

// Invalidate removes the entries whose key matches predicate.
func (c *LRU[K, V]) Invalidate(predicate func(key K) bool) int {
	c.mu.Lock()

	var evicted []*entry[K, V]

	for key, el := range c.items {
		if predicate(key) {
			evicted = append(evicted, c.removeElement(el))
		}
	}

	c.mu.Unlock()
	c.notify(evicted)

	return len(evicted)
}

// Purge removes every entry.
func (c *LRU[K, V]) Purge() {
	c.Invalidate(func(K) bool { return true })
}

// Keys returns the cached keys from most to least recently used.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for el := c.evictList.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}

	return keys
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// Size returns the summed weight of the entries.
func (c *LRU[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}

// Stats returns hit and miss counters.
func (c *LRU[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LRU[K, V]) removeElement(el *list.Element) *entry[K, V] {
	c.evictList.Remove(el)

	e := el.Value.(*entry[K, V])
	delete(c.items, e.key)
	c.size -= e.size
	c.rc.ReleaseMemory(e.size)

	return e
}

func (c *LRU[K, V]) notify(evicted []*entry[K, V]) {
	if c.onEvict == nil {
		return
	}

	for _, e := range evicted {
		c.onEvict(e.key, e.value)
	}
}
