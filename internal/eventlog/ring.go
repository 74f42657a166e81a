// Package eventlog provides the bounded, newest-first logs used for detection
// events and relayed messages.
package eventlog

import (
	"sync"
	"time"
)

// Default capacities.
const (
	DetectionLogSize = 10
	MessageLogSize   = 50
)

// Entry is an immutable log record.
type Entry struct {
	Description string
	Time        time.Time
}

// Ring is a fixed-capacity log. Index 0 is always the most recently added
// item; once full, adding evicts the oldest. Safe for concurrent use.
type Ring[T any] struct {
	mu    sync.Mutex
	items []T // oldest first; reversed on read
	start int
	size  int
}

// NewRing returns a ring holding at most capacity items. capacity < 1 is
// treated as 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Add records v as the newest item.
func (r *Ring[T]) Add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.items)
	if r.size < n {
		r.items[(r.start+r.size)%n] = v
		r.size++
		return
	}
	r.items[r.start] = v
	r.start = (r.start + 1) % n
}

// Snapshot returns a copy of the items, newest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, r.size)
	n := len(r.items)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.start+r.size-1-i)%n]
	}
	return out
}

// Len returns the number of items held.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Clear removes every item.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.items)
	r.start, r.size = 0, 0
}
