package cache

import (
	"slices"
	"time"
)

// Bounded is a fixed-capacity store kept in ascending timestamp order.
// Once full, the oldest entries are evicted first. Items with a key already
// present are rejected. Bounded is not safe for concurrent use; its owner
// serialises access.
type Bounded[T any, K comparable] struct {
	capacity int
	stamp    func(T) time.Time
	key      func(T) K
	items    []T
	keys     map[K]struct{}
}

// NewBounded creates a cache holding at most capacity items.
// capacity values below 1 are treated as 1.
func NewBounded[T any, K comparable](capacity int, stamp func(T) time.Time, key func(T) K) *Bounded[T, K] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T, K]{
		capacity: capacity,
		stamp:    stamp,
		key:      key,
		items:    make([]T, 0, capacity),
		keys:     make(map[K]struct{}, capacity),
	}
}

// Add inserts item and truncates the oldest end back to capacity.
// It reports whether the item is retained.
func (b *Bounded[T, K]) Add(item T) bool {
	k := b.key(item)
	if _, dup := b.keys[k]; dup {
		return false
	}

	ts := b.stamp(item)
	// Insert after any entries with the same timestamp to keep arrival order.
	idx, _ := slices.BinarySearchFunc(b.items, ts, func(existing T, target time.Time) int {
		if b.stamp(existing).After(target) {
			return 1
		}
		return -1
	})
	if len(b.items) >= b.capacity && idx == 0 {
		return false
	}

	b.items = slices.Insert(b.items, idx, item)
	b.keys[k] = struct{}{}

	for len(b.items) > b.capacity {
		delete(b.keys, b.key(b.items[0]))
		b.items = slices.Delete(b.items, 0, 1)
	}
	return true
}

// All returns a copy of the items in ascending timestamp order.
func (b *Bounded[T, K]) All() []T {
	return slices.Clone(b.items)
}

// Len returns the number of retained items.
func (b *Bounded[T, K]) Len() int {
	return len(b.items)
}

// Capacity returns the configured capacity.
func (b *Bounded[T, K]) Capacity() int {
	return b.capacity
}

// Clear drops every item.
func (b *Bounded[T, K]) Clear() {
	b.items = b.items[:0]
	clear(b.keys)
}
