package pool

import (
	"container/list"
	"time"
)

// grant is delivered to a waiter exactly once.
type grant struct {
	conn *Connection
	err  error
}

// waiter is a caller blocked in Acquire. elem is nil once the waiter has
// been removed from the queue, which happens under the pool mutex either by
// a grant or by the waiter giving up, never both.
type waiter struct {
	ch         chan grant
	elem       *list.Element
	enqueuedAt time.Time
}

// waitQueue is a FIFO of waiters with O(1) removal. It is not safe for
// concurrent use; the pool mutex guards it.
type waitQueue struct {
	l *list.List
}

func newWaitQueue() *waitQueue {
	return &waitQueue{l: list.New()}
}

// push appends a new waiter at the tail.
func (q *waitQueue) push(now time.Time) *waiter {
	w := &waiter{ch: make(chan grant, 1), enqueuedAt: now}
	w.elem = q.l.PushBack(w)
	return w
}

// pop removes and returns the head waiter, or nil.
func (q *waitQueue) pop() *waiter {
	front := q.l.Front()
	if front == nil {
		return nil
	}
	w := q.l.Remove(front).(*waiter)
	w.elem = nil
	return w
}

// remove takes w out of the queue. It returns false if w was already
// removed.
func (q *waitQueue) remove(w *waiter) bool {
	if w.elem == nil {
		return false
	}
	q.l.Remove(w.elem)
	w.elem = nil
	return true
}

// len returns the number of queued waiters.
func (q *waitQueue) len() int {
	return q.l.Len()
}

// drain removes every waiter in FIFO order.
func (q *waitQueue) drain() []*waiter {
	out := make([]*waiter, 0, q.l.Len())
	for w := q.pop(); w != nil; w = q.pop() {
		out = append(out, w)
	}
	return out
}

// deliver sends g to w. The channel is buffered and written once, so this
// never blocks.
func (w *waiter) deliver(g grant) {
	w.ch <- g
}
