// Package registry provides the bounded in-memory maps backing the
// realtime core: connections, presence, streaming sessions, rate buckets
// and in-flight history loads all live in one of these.
package registry

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Bounded is a concurrency-safe map capped at a fixed number of entries.
// Inserting a new key at capacity evicts the oldest-inserted key. Access
// does not refresh insertion order, so the bound is deterministic under
// churn.
type Bounded[K comparable, V any] struct {
	mu      sync.RWMutex
	cap     int
	entries map[K]*list.Element
	order   *list.List

	hits   atomic.Uint64
	misses atomic.Uint64
}

type item[K comparable, V any] struct {
	key   K
	value V
}

// NewBounded creates a registry holding at most capacity entries.
func NewBounded[K comparable, V any](capacity int) *Bounded[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[K, V]{
		cap:     capacity,
		entries: make(map[K]*list.Element, capacity),
		order:   list.New(),
	}
}

// Get returns the value for key and whether it was present.
func (b *Bounded[K, V]) Get(key K) (V, bool) {
	b.mu.RLock()
	el, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		b.misses.Add(1)
		var zero V
		return zero, false
	}
	b.hits.Add(1)
	return el.Value.(*item[K, V]).value, true
}

// Put inserts or replaces the value for key. Replacing keeps the key's
// original insertion position. Returns the evicted entry, if any, so the
// caller can release resources it holds.
func (b *Bounded[K, V]) Put(key K, value V) (evictedKey K, evictedValue V, evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if el, ok := b.entries[key]; ok {
		el.Value.(*item[K, V]).value = value
		return evictedKey, evictedValue, false
	}

	if b.order.Len() >= b.cap {
		oldest := b.order.Front()
		if oldest != nil {
			it := oldest.Value.(*item[K, V])
			delete(b.entries, it.key)
			b.order.Remove(oldest)
			evictedKey, evictedValue, evicted = it.key, it.value, true
		}
	}

	b.entries[key] = b.order.PushBack(&item[K, V]{key: key, value: value})
	return evictedKey, evictedValue, evicted
}

// Delete removes key if present and reports whether it was.
func (b *Bounded[K, V]) Delete(key K) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.entries[key]
	if !ok {
		return false
	}
	delete(b.entries, key)
	b.order.Remove(el)
	return true
}

// Len returns the current entry count.
func (b *Bounded[K, V]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.order.Len()
}

// Range calls fn for each entry in insertion order until fn returns false.
// The snapshot is taken under the read lock; fn runs outside it, so it may
// call back into the registry.
func (b *Bounded[K, V]) Range(fn func(key K, value V) bool) {
	b.mu.RLock()
	snapshot := make([]item[K, V], 0, b.order.Len())
	for el := b.order.Front(); el != nil; el = el.Next() {
		it := el.Value.(*item[K, V])
		snapshot = append(snapshot, item[K, V]{key: it.key, value: it.value})
	}
	b.mu.RUnlock()

	for _, it := range snapshot {
		if !fn(it.key, it.value) {
			return
		}
	}
}

// Clear removes every entry.
func (b *Bounded[K, V]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[K]*list.Element, b.cap)
	b.order.Init()
}

// Stats reports cumulative hit and miss counts for Get.
func (b *Bounded[K, V]) Stats() (hits, misses uint64) {
	return b.hits.Load(), b.misses.Load()
}
