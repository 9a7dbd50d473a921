// Package queue provides a bounded FIFO shared between producers and a
// single consumer that drains it in batches.
package queue

import (
	"errors"
	"sync"
)

// ErrFull is returned by Push when the queue is at capacity
var ErrFull = errors.New("queue is full")

// Queue is a generic thread-safe FIFO. A capacity of zero means unbounded.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
}

func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{capacity: capacity}
}

// Push appends items in order. Nothing is appended if all of them do not fit.
func (q *Queue[T]) Push(items ...T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.items)+len(items) > q.capacity {
		return ErrFull
	}
	q.items = append(q.items, items...)
	return nil
}

// Drain returns every queued item in arrival order and empties the queue.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = make([]T, 0, cap(out))
	return out
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
}
