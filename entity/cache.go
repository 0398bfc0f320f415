package entity

import (
	"sync"

	"github.com/elliotchance/orderedmap/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is the identity table for a single entity kind.
type Cache[T any] interface {
	Get(id string) (T, bool)
	Put(id string, v T)
	Delete(id string)
	Len() int
	Clear()
	// Each iterates entries until fn returns false.
	Each(fn func(id string, v T) bool)
}

// orderedCache is an unbounded identity table with insertion-order iteration.
// Users and threads live here for the lifetime of the client.
type orderedCache[T any] struct {
	mu sync.RWMutex
	m  *orderedmap.OrderedMap[string, T]
}

func newOrderedCache[T any]() *orderedCache[T] {
	return &orderedCache[T]{m: orderedmap.NewOrderedMap[string, T]()}
}

func (c *orderedCache[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m.Get(id)
}

func (c *orderedCache[T]) Put(id string, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.Set(id, v)
}

func (c *orderedCache[T]) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m.Delete(id)
}

func (c *orderedCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m.Len()
}

func (c *orderedCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = orderedmap.NewOrderedMap[string, T]()
}

func (c *orderedCache[T]) Each(fn func(id string, v T) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for el := c.m.Front(); el != nil; el = el.Next() {
		if !fn(el.Key, el.Value) {
			return
		}
	}
}

// lruCache is a bounded identity table. Get and Put promote the entry to
// most-recently-used; exceeding capacity evicts the least-recently-used entry
// silently. Messages live here.
type lruCache[T any] struct {
	l *lru.Cache[string, T]
}

func newLRUCache[T any](capacity int) *lruCache[T] {
	if capacity <= 0 {
		capacity = defaultMessageCacheSize
	}
	l, _ := lru.New[string, T](capacity)
	return &lruCache[T]{l: l}
}

func (c *lruCache[T]) Get(id string) (T, bool) { return c.l.Get(id) }
func (c *lruCache[T]) Put(id string, v T)      { c.l.Add(id, v) }
func (c *lruCache[T]) Delete(id string)        { c.l.Remove(id) }
func (c *lruCache[T]) Len() int                { return c.l.Len() }
func (c *lruCache[T]) Clear()                  { c.l.Purge() }

func (c *lruCache[T]) Each(fn func(id string, v T) bool) {
	// Peek keeps iteration from disturbing recency order.
	for _, id := range c.l.Keys() {
		if v, ok := c.l.Peek(id); ok {
			if !fn(id, v) {
				return
			}
		}
	}
}
