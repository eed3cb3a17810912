// Package ring provides a fixed-capacity single-producer/single-consumer ring buffer.
//
// The producer owns the tail index and the consumer owns the head index. Both are
// atomics so the two sides may run in different goroutines (or an interrupt and the
// main loop on TinyGo) without a lock. One slot is always left empty, so a ring of
// size N holds at most N-1 elements.
package ring

import (
	"fmt"
	"sync/atomic"
)

// Ring is a lock-free SPSC ring buffer over a power-of-two backing array.
type Ring[T any] struct {
	buf  []T
	mask uint32

	head atomic.Uint32 // next slot to read (consumer)
	tail atomic.Uint32 // next slot to write (producer)
}

// New creates a ring with size slots. Size must be a power of two and at least 2.
func New[T any](size int) *Ring[T] {
	if size < 2 || size&(size-1) != 0 {
		panic(fmt.Sprintf("ring: size %d is not a power of two", size))
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: uint32(size - 1),
	}
}

// Size returns the number of slots, including the one that is always kept empty.
func (r *Ring[T]) Size() int { return len(r.buf) }

// Cap returns the maximum number of elements the ring can hold.
func (r *Ring[T]) Cap() int { return len(r.buf) - 1 }

// Len returns the number of queued elements.
func (r *Ring[T]) Len() int {
	return int((r.tail.Load() - r.head.Load()) & r.mask)
}

// Free returns the number of elements that can still be pushed.
func (r *Ring[T]) Free() int { return r.Cap() - r.Len() }

// Empty reports whether head == tail.
func (r *Ring[T]) Empty() bool { return r.head.Load() == r.tail.Load() }

// Full reports whether head == tail+1.
func (r *Ring[T]) Full() bool {
	return r.head.Load() == (r.tail.Load()+1)&r.mask
}

// Next returns the slot index following idx.
func (r *Ring[T]) Next(idx uint32) uint32 { return (idx + 1) & r.mask }

// Prev returns the slot index preceding idx.
func (r *Ring[T]) Prev(idx uint32) uint32 { return (idx - 1) & r.mask }

// Head returns the index of the oldest element.
func (r *Ring[T]) Head() uint32 { return r.head.Load() }

// Tail returns the index of the next slot to be written.
func (r *Ring[T]) Tail() uint32 { return r.tail.Load() }

// At returns the slot at idx. The index is masked, so At never goes out of bounds,
// but the caller is responsible for only touching slots between head and tail.
func (r *Ring[T]) At(idx uint32) *T { return &r.buf[idx&r.mask] }

// TryPush appends v. It returns false when the ring is full.
func (r *Ring[T]) TryPush(v T) bool {
	slot, ok := r.Reserve()
	if !ok {
		return false
	}
	*slot = v
	r.Commit()
	return true
}

// Reserve returns the slot at the tail without publishing it, so the producer can
// fill it in place. Commit publishes the slot.
func (r *Ring[T]) Reserve() (*T, bool) {
	tail := r.tail.Load()
	if r.head.Load() == (tail+1)&r.mask {
		return nil, false
	}
	return &r.buf[tail], true
}

// Commit publishes the slot returned by the last Reserve.
func (r *Ring[T]) Commit() {
	tail := r.tail.Load()
	if r.head.Load() == (tail+1)&r.mask {
		panic("ring: commit into a full ring")
	}
	r.tail.Store((tail + 1) & r.mask)
}

// TryPop removes and returns the oldest element.
func (r *Ring[T]) TryPop() (T, bool) {
	var zero T
	head := r.head.Load()
	if head == r.tail.Load() {
		return zero, false
	}
	v := r.buf[head]
	r.buf[head] = zero
	r.head.Store((head + 1) & r.mask)
	return v, true
}

// Front returns the oldest element without removing it.
func (r *Ring[T]) Front() (*T, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		return nil, false
	}
	return &r.buf[head], true
}

// Back returns the most recently pushed element.
func (r *Ring[T]) Back() (*T, bool) {
	tail := r.tail.Load()
	if r.head.Load() == tail {
		return nil, false
	}
	return &r.buf[(tail-1)&r.mask], true
}

// Discard drops the oldest element. It panics on an empty ring.
func (r *Ring[T]) Discard() {
	head := r.head.Load()
	if head == r.tail.Load() {
		panic("ring: discard from an empty ring")
	}
	var zero T
	r.buf[head] = zero
	r.head.Store((head + 1) & r.mask)
}

// Reset empties the ring. Only safe while neither side is running.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head.Store(0)
	r.tail.Store(0)
}
