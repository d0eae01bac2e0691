package cache

import (
	"container/list"
	"sync"
	"time"
)

type item[V any] struct {
	key   string
	value V
	ts    time.Time
}

// Cache is a bounded map whose entries expire after ttl. When full, the least recently written
// key is evicted. Each key owns exactly one element of the write-order list.
type Cache[V any] struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front is the oldest write
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// New creates a cache with the provided capacity and ttl.
func New[V any](capacity int, ttl time.Duration) *Cache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache[V]{
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (c *Cache[V]) WithClock(now func() time.Time) *Cache[V] {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// Get returns the value stored under key if it was written inside the ttl window.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	it := el.Value.(*item[V])
	if c.now().Sub(it.ts) > c.ttl {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Set stores value under key and refreshes its ttl.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[key]; ok {
		it := el.Value.(*item[V])
		it.value = value
		it.ts = now
		c.order.MoveToBack(el)
	} else {
		c.items[key] = c.order.PushBack(&item[V]{key: key, value: value, ts: now})
	}
	c.compact(now)
}

// Delete drops key. Deleting a missing key is a no-op.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Len reports the number of stored entries, expired ones included until the next compaction.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

func (c *Cache[V]) compact(now time.Time) {
	cutoff := now.Add(-c.ttl)

	for front := c.order.Front(); front != nil; front = c.order.Front() {
		it := front.Value.(*item[V])
		if len(c.items) <= c.capacity && !it.ts.Before(cutoff) {
			return
		}
		c.order.Remove(front)
		delete(c.items, it.key)
	}
}

// Seen is the set form of Cache used to drop repeated work.
type Seen struct {
	c *Cache[struct{}]
}

// NewSeen creates a Seen set with the provided capacity and ttl.
func NewSeen(capacity int, ttl time.Duration) *Seen {
	return &Seen{c: New[struct{}](capacity, ttl)}
}

// IsSeen returns true when the key has already been observed inside the ttl window.
// It does not mark the key as seen; use MarkSeen to record a key.
func (s *Seen) IsSeen(key string) bool {
	_, ok := s.c.Get(key)
	return ok
}

// MarkSeen records that a key has been processed.
func (s *Seen) MarkSeen(key string) {
	s.c.Set(key, struct{}{})
}
