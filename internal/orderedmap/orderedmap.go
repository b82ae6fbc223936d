// Package orderedmap keeps values keyed by a 64-bit index in first-insertion
// order. Updating an existing key keeps its position; deleting and
// re-inserting a key moves it to the end.
package orderedmap

import "github.com/tidwall/btree"

type slot[V any] struct {
	key   int64
	value V
}

// Map is not safe for concurrent use.
type Map[V any] struct {
	slots btree.Map[uint64, slot[V]] // ordinal -> slot
	pos   map[int64]uint64           // key -> ordinal
	next  uint64
}

func New[V any]() *Map[V] {
	return &Map[V]{pos: make(map[int64]uint64)}
}

func (m *Map[V]) Len() int { return len(m.pos) }

func (m *Map[V]) Has(key int64) bool {
	_, ok := m.pos[key]
	return ok
}

func (m *Map[V]) Get(key int64) (V, bool) {
	ord, ok := m.pos[key]
	if !ok {
		var zero V
		return zero, false
	}
	s, _ := m.slots.Get(ord)
	return s.value, true
}

// Set stores v under key and reports whether an existing value was replaced
// in place.
func (m *Map[V]) Set(key int64, v V) bool {
	if ord, ok := m.pos[key]; ok {
		m.slots.Set(ord, slot[V]{key: key, value: v})
		return true
	}
	ord := m.next
	m.next++
	m.pos[key] = ord
	m.slots.Set(ord, slot[V]{key: key, value: v})
	return false
}

// Delete removes key and returns the value it held.
func (m *Map[V]) Delete(key int64) (V, bool) {
	ord, ok := m.pos[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(m.pos, key)
	s, _ := m.slots.Delete(ord)
	return s.value, true
}

// Scan visits entries in insertion order until fn returns false.
func (m *Map[V]) Scan(fn func(key int64, v V) bool) {
	m.slots.Scan(func(_ uint64, s slot[V]) bool {
		return fn(s.key, s.value)
	})
}

func (m *Map[V]) Keys() []int64 {
	keys := make([]int64, 0, m.Len())
	m.Scan(func(k int64, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

func (m *Map[V]) Values() []V {
	values := make([]V, 0, m.Len())
	m.Scan(func(_ int64, v V) bool {
		values = append(values, v)
		return true
	})
	return values
}

func (m *Map[V]) Clear() {
	m.slots = btree.Map[uint64, slot[V]]{}
	m.pos = make(map[int64]uint64)
	m.next = 0
}
