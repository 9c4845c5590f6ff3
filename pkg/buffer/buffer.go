// Package buffer provides a generic, thread-safe bounded ring buffer.
//
// The transport read loop writes bursts of lines into a Ring faster than the
// engine drains them; the overflow policy decides which side loses when the
// ring is full. Statistics are always collected for observability.
package buffer

import (
	"sync"
)

// OverflowPolicy defines behavior when the ring is at capacity.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest rejects new items while the ring is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// Statistics tracks ring activity counters.
type Statistics struct {
	Written uint64
	Read    uint64
	Dropped uint64
}

// Ring is a fixed-capacity FIFO buffer parameterized by item type.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	size     int
	capacity int
	policy   OverflowPolicy
	stats    Statistics
}

// NewRing creates a ring with the given capacity and overflow policy.
// Capacity must be positive.
func NewRing[T any](capacity int, policy OverflowPolicy) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		policy:   policy,
	}
}

// Write adds an item to the ring. Returns false if the item was dropped
// (DropNewest policy with a full ring).
func (r *Ring[T]) Write(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == r.capacity {
		switch r.policy {
		case DropOldest:
			r.head = (r.head + 1) % r.capacity
			r.size--
			r.stats.Dropped++
		case DropNewest:
			r.stats.Dropped++
			return false
		}
	}

	r.items[(r.head+r.size)%r.capacity] = item
	r.size++
	r.stats.Written++
	return true
}

// Read retrieves and removes the oldest item.
// Returns the zero value and false if the ring is empty.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % r.capacity
	r.size--
	r.stats.Read++
	return item, true
}

// ReadBatch retrieves and removes up to max items, oldest first.
func (r *Ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max > r.size {
		max = r.size
	}
	if max <= 0 {
		return nil
	}

	var zero T
	out := make([]T, 0, max)
	for i := 0; i < max; i++ {
		out = append(out, r.items[r.head])
		r.items[r.head] = zero
		r.head = (r.head + 1) % r.capacity
		r.size--
		r.stats.Read++
	}
	return out
}

// Size returns the current number of buffered items.
func (r *Ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the maximum number of items the ring can hold.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// Clear removes all items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}

// Stats returns a copy of the activity counters.
func (r *Ring[T]) Stats() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
