// Package ringbuffer implements a fixed capacity, lock-free ring buffer for
// exactly one producer goroutine and one consumer goroutine.
//
// The store holds capacity+1 slots so that a full buffer (write one slot
// behind read) can be told apart from an empty one (write == read). The
// producer owns the write cursor and the consumer owns the read cursor; each
// side advances its own cursor with a compare-and-swap and only loads the
// other one, so Push and Pop never block and never allocate.
package ringbuffer

import (
	"sync/atomic"
)

// cacheLinePad keeps the two cursors on separate cache lines
type cacheLinePad [56]byte

// RingBuffer is a single-producer single-consumer FIFO of T.
type RingBuffer[T any] struct {
	write atomic.Uint64
	_     cacheLinePad
	read  atomic.Uint64
	_     cacheLinePad

	store []T
	size  uint64 // len(store), capacity+1
}

// New returns a ring buffer holding up to capacity items. It panics when
// capacity is less than one.
func New[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		panic("ringbuffer: capacity must be at least 1")
	}
	return &RingBuffer[T]{
		store: make([]T, capacity+1),
		size:  uint64(capacity) + 1,
	}
}

// Push appends item. It returns false without modifying the buffer when the
// buffer is full. Producer side only.
func (rb *RingBuffer[T]) Push(item T) bool {
	for {
		w := rb.write.Load()
		next := w + 1
		if next == rb.size {
			next = 0
		}
		if next == rb.read.Load() {
			return false
		}
		rb.store[w] = item
		if rb.write.CompareAndSwap(w, next) {
			return true
		}
	}
}

// Pop removes and returns the oldest item. The second result is false when
// the buffer is empty. Consumer side only.
func (rb *RingBuffer[T]) Pop() (T, bool) {
	for {
		r := rb.read.Load()
		if r == rb.write.Load() {
			var zero T
			return zero, false
		}
		item := rb.store[r]
		next := r + 1
		if next == rb.size {
			next = 0
		}
		if rb.read.CompareAndSwap(r, next) {
			return item, true
		}
	}
}

// Size returns a snapshot of the number of buffered items.
func (rb *RingBuffer[T]) Size() int {
	w := rb.write.Load()
	r := rb.read.Load()
	if w >= r {
		return int(w - r)
	}
	return int(rb.size - r + w)
}

// Free returns a snapshot of the number of items that can be pushed.
func (rb *RingBuffer[T]) Free() int {
	return rb.Capacity() - rb.Size()
}

// Capacity returns the maximum number of buffered items.
func (rb *RingBuffer[T]) Capacity() int {
	return int(rb.size - 1)
}

// Empty reports whether the buffer held no items at the time of the call.
func (rb *RingBuffer[T]) Empty() bool {
	return rb.write.Load() == rb.read.Load()
}

// Full reports whether the buffer was full at the time of the call.
func (rb *RingBuffer[T]) Full() bool {
	next := rb.write.Load() + 1
	if next == rb.size {
		next = 0
	}
	return next == rb.read.Load()
}
