package dispatch

import (
	"context"
	"sync"

	"main/internal/schema"
	"main/pkg/exception"
)

// Queue is a bounded, non-blocking event queue. Publishing never stalls
// the caller: a full queue rejects the event instead of blocking the
// order path.
type Queue struct {
	mu     sync.RWMutex
	ch     chan schema.Event
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan schema.Event, capacity)}
}

// TryPublish enqueues an event without blocking. The send happens under
// the read lock so a concurrent Close cannot close the channel between
// the closed check and the send.
func (q *Queue) TryPublish(e schema.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return exception.ErrEventQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return exception.ErrEventQueueFull
	}
}

// Close stops the queue from accepting new events. Already queued
// events still drain through Run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Run consumes events until the context is done or the queue is closed
// and drained.
func (q *Queue) Run(ctx context.Context, handler func(schema.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			handler(e)
		}
	}
}

// Len reports the number of queued events.
func (q *Queue) Len() int {
	return len(q.ch)
}
