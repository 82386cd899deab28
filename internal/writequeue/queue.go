// Package writequeue orders local write transactions by the sequence number
// they were allocated.
//
// A writer calls Push to obtain a Slot carrying the next local USN, Wait to
// block until every earlier slot has been popped, and Pop once its
// transaction has committed or been abandoned. The queue's counter is
// guarded by its own mutex, never by a storage transaction, so USNs are
// handed out in Push order regardless of which transaction commits first.
package writequeue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push and Wait after Close.
var ErrClosed = errors.New("write queue closed")

// Slot is one writer's place in the queue.
type Slot struct {
	usn   uint64
	ready chan struct{} // closed when the slot reaches the head
}

// USN returns the local sequence number allocated to the slot.
func (s *Slot) USN() uint64 {
	return s.usn
}

// release must be called with the queue mutex held.
func (s *Slot) release() {
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
}

// Queue is a FIFO of pending writers. Safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	next    uint64
	pending []*Slot
	closed  bool
}

// New creates a queue whose first slot receives start+1.
func New(start uint64) *Queue {
	return &Queue{
		next:    start,
		pending: make([]*Slot, 0, 16),
	}
}

// Push allocates the next USN and appends a slot for it.
func (q *Queue) Push() (*Slot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	q.next++
	s := &Slot{usn: q.next, ready: make(chan struct{})}
	q.pending = append(q.pending, s)
	if len(q.pending) == 1 {
		s.release()
	}
	return s, nil
}

// Wait blocks until s is the oldest outstanding slot or ctx is done.
func (q *Queue) Wait(ctx context.Context, s *Slot) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return nil
}

// Pop removes s from the queue and wakes the next writer. Popping a slot
// that is not at the head is allowed; the slot is dropped in place. Popping
// twice is a no-op.
func (q *Queue) Pop(s *Slot) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, p := range q.pending {
		if p != s {
			continue
		}
		// Nil out for GC before reslicing.
		copy(q.pending[i:], q.pending[i+1:])
		q.pending[len(q.pending)-1] = nil
		q.pending = q.pending[:len(q.pending)-1]

		if i == 0 && len(q.pending) > 0 {
			q.pending[0].release()
		}
		return
	}
}

// Len returns the number of outstanding slots.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Current returns the most recently allocated USN.
func (q *Queue) Current() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next
}

// Close rejects further Push calls and releases every waiter with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for _, s := range q.pending {
		s.release()
	}
}
