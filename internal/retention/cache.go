// Package retention provides the bounded, oldest-first caches owned by the auxiliary handlers.
package retention

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache keeps at most capacity entries in insertion order. When maxAge is set,
// entries older than maxAge are invisible and dropped in the background.
type Cache[K comparable, V any] struct {
	// mu makes check-then-write sequences atomic; the LRU guards itself otherwise.
	mu  sync.Mutex
	lru *expirable.LRU[K, V]
}

func New[K comparable, V any](capacity int, maxAge time.Duration) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache[K, V]{
		lru: expirable.NewLRU[K, V](capacity, nil, maxAge),
	}
}

// Put inserts or replaces key. A replaced key moves to the newest position.
// It returns the number of entries evicted to respect capacity.
func (c *Cache[K, V]) Put(key K, value V) int {
	if c.lru.Add(key, value) {
		return 1
	}
	return 0
}

// Add inserts key only when no live entry holds it. It reports whether the key was new.
func (c *Cache[K, V]) Add(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lru.Peek(key); ok {
		return false
	}
	c.lru.Add(key, value)
	return true
}

// Get never changes the eviction order.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.lru.Peek(key)
}

// Take returns and removes key. Of two concurrent Takes only one gets the value.
func (c *Cache[K, V]) Take(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Peek(key)
	if ok {
		c.lru.Remove(key)
	}
	return v, ok
}

func (c *Cache[K, V]) Delete(key K) {
	c.lru.Remove(key)
}

// Len counts live entries.
func (c *Cache[K, V]) Len() int {
	return len(c.lru.Keys())
}

// Keys lists the live keys from oldest to newest.
func (c *Cache[K, V]) Keys() []K {
	return c.lru.Keys()
}
