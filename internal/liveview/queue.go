package liveview

import (
	"context"
	"sync"
)

// queue is an unbounded FIFO with a single consumer.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	// notifyCh holds at most one wakeup for the consumer.
	notifyCh chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{notifyCh: make(chan struct{}, 1)}
}

// push appends item and reports false once the queue is closed. It never blocks.
func (q *queue[T]) push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notifyCh <- struct{}{}:
	default:
		// Already notified
	}
	return true
}

// pop waits for the next item. It returns false when ctx is done or the
// queue is closed and drained.
func (q *queue[T]) pop(ctx context.Context) (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, false
		}

		select {
		case <-ctx.Done():
			return zero, false
		case <-q.notifyCh:
		}
	}
}

// close rejects further pushes and returns what was still queued.
func (q *queue[T]) close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	rest := q.items
	q.items = nil

	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
	return rest
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
