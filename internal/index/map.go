// Package index provides the concurrent maps the registry is built on.
//
// Reads never take a lock. Writers serialize on one of a fixed set of
// stripes selected by hashing the key, so a write to K contends only with
// writers whose keys share K's stripe and never with readers.
package index

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// DefaultStripes is used when a caller asks for zero stripes.
const DefaultStripes = 64

// HashFunc selects a stripe for a key.
type HashFunc[K comparable] func(K) uint64

// StringHash is a HashFunc for string keys.
func StringHash(s string) uint64 { return xxhash.Sum64String(s) }

// Map is a concurrent map with lock-free reads and striped writes.
type Map[K comparable, V any] struct {
	data    sync.Map
	stripes []sync.Mutex
	hash    HashFunc[K]
	count   atomic.Int64
}

// NewMap builds a Map with n writer stripes.
func NewMap[K comparable, V any](n int, hash HashFunc[K]) *Map[K, V] {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Map[K, V]{
		stripes: make([]sync.Mutex, n),
		hash:    hash,
	}
}

func (m *Map[K, V]) stripe(k K) *sync.Mutex {
	return &m.stripes[m.hash(k)%uint64(len(m.stripes))]
}

// Load returns the value stored under k.
func (m *Map[K, V]) Load(k K) (V, bool) {
	v, ok := m.data.Load(k)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Update runs fn under k's writer stripe with the current value. When fn
// returns store=true the result is published; a non-nil error publishes
// nothing and is returned as is. fn must not touch this Map.
func (m *Map[K, V]) Update(k K, fn func(cur V, exists bool) (next V, store bool, err error)) (V, error) {
	mu := m.stripe(k)
	mu.Lock()
	defer mu.Unlock()

	cur, exists := m.Load(k)
	next, store, err := fn(cur, exists)
	if err != nil || !store {
		return cur, err
	}
	m.data.Store(k, next)
	if !exists {
		m.count.Add(1)
	}
	return next, nil
}

// LoadOrStore publishes v under k unless a value is already present.
func (m *Map[K, V]) LoadOrStore(k K, v V) (actual V, loaded bool) {
	mu := m.stripe(k)
	mu.Lock()
	defer mu.Unlock()

	if cur, ok := m.Load(k); ok {
		return cur, true
	}
	m.data.Store(k, v)
	m.count.Add(1)
	return v, false
}

// Store publishes v under k, replacing any previous value.
func (m *Map[K, V]) Store(k K, v V) {
	_, _ = m.Update(k, func(V, bool) (V, bool, error) { return v, true, nil })
}

// Range calls fn for every entry until fn returns false. Entries published
// during the walk may or may not be visited.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	m.data.Range(func(k, v any) bool {
		return fn(k.(K), v.(V))
	})
}

// Len is the number of distinct keys ever stored.
func (m *Map[K, V]) Len() int {
	return int(m.count.Load())
}
