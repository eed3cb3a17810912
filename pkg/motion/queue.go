package motion

import (
	"sync/atomic"

	"github.com/itohio/gobuddy/pkg/ring"
)

// StepEvent is one entry of the step event queue. Ticks is the delay since the
// previous event.
type StepEvent struct {
	Ticks int32
	Flags StepEventFlag
}

// MoveQueue is the move segment arena. The planner appends at the tail, the step
// generators advance the unprocessed index and the step ISR retires segments from
// the head. Segments are addressed by slot index, never by pointer ownership.
type MoveQueue struct {
	ring        *ring.Ring[Move]
	unprocessed atomic.Uint32
}

// NewMoveQueue creates a queue with size slots. Size must be a power of two.
func NewMoveQueue(size int) *MoveQueue {
	return &MoveQueue{ring: ring.New[Move](size)}
}

// Push appends m. It returns false when no slot is free.
func (q *MoveQueue) Push(m Move) bool {
	m.refs = 0
	return q.ring.TryPush(m)
}

// At returns the segment stored in slot idx.
func (q *MoveQueue) At(idx uint32) *Move { return q.ring.At(idx) }

// Next returns the slot after idx, or false when idx is the newest segment.
func (q *MoveQueue) Next(idx uint32) (uint32, bool) {
	next := q.ring.Next(idx)
	if next == q.ring.Tail() {
		return 0, false
	}
	return next, true
}

// Unprocessed returns the oldest segment some generator still has to finish.
func (q *MoveQueue) Unprocessed() (uint32, bool) {
	idx := q.unprocessed.Load()
	if idx == q.ring.Tail() {
		return 0, false
	}
	return idx, true
}

// HasUnprocessed reports whether any segment waits for the generators.
func (q *MoveQueue) HasUnprocessed() bool {
	_, ok := q.Unprocessed()
	return ok
}

// DiscardUnprocessed marks the oldest unprocessed segment as processed.
func (q *MoveQueue) DiscardUnprocessed() {
	idx := q.unprocessed.Load()
	if idx == q.ring.Tail() {
		panic("motion: no unprocessed move segment")
	}
	q.unprocessed.Store(q.ring.Next(idx))
}

// Current returns the oldest segment that is not yet retired by the step ISR.
func (q *MoveQueue) Current() (*Move, bool) { return q.ring.Front() }

// DiscardCurrent retires the oldest segment. It must already be processed.
func (q *MoveQueue) DiscardCurrent() {
	if q.ring.Head() == q.unprocessed.Load() {
		panic("motion: retiring an unprocessed move segment")
	}
	q.ring.Discard()
}

// Len returns the number of segments in the queue.
func (q *MoveQueue) Len() int { return q.ring.Len() }

// Free returns the number of free slots.
func (q *MoveQueue) Free() int { return q.ring.Free() }

// Empty reports whether no segment is queued.
func (q *MoveQueue) Empty() bool { return q.ring.Empty() }

// Reset drops every segment. Only safe while the generators and the ISR are idle.
func (q *MoveQueue) Reset() {
	q.ring.Reset()
	q.unprocessed.Store(0)
}
