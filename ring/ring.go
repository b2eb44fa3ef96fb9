// Package ring provides a fixed-capacity FIFO buffer for observation
// records. When full, the oldest entry is evicted first.
//
// Concurrency contract: a single goroutine appends; any goroutine may
// read. Reads return shallow snapshot copies, never views into the live
// backing array, so readers and the writer do not need to coordinate
// beyond the internal mutex.
package ring

import "sync"

// Buffer is a bounded ring of T.
type Buffer[T any] struct {
	mu    sync.Mutex
	items []T
	head  int // index of oldest entry
	count int
	cap   int
}

// New creates a Buffer with the given capacity. Capacity below 1 is
// treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{
		items: make([]T, capacity),
		cap:   capacity,
	}
}

// Append adds an item, evicting the oldest when the buffer is full.
func (b *Buffer[T]) Append(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tail := (b.head + b.count) % b.cap
	b.items[tail] = item
	if b.count < b.cap {
		b.count++
		return
	}
	// Full: the slot we just wrote was the oldest. Advance head.
	b.head = (b.head + 1) % b.cap
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int { return b.cap }

// Snapshot returns a copy of the buffered items, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.items[(b.head+i)%b.cap]
	}
	return out
}

// Filter returns a copy of the buffered items for which keep returns
// true, oldest first.
func (b *Buffer[T]) Filter(keep func(T) bool) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []T
	for i := 0; i < b.count; i++ {
		item := b.items[(b.head+i)%b.cap]
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

// Clear drops all buffered items.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
}
