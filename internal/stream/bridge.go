// Package stream turns a running OCR job into a sequence of wire events
// delivered over Server-Sent Events.
package stream

import (
	"context"
	"sync"
	"time"
)

// Bridge is an unbounded queue between the goroutine running a job and the
// goroutine writing its stream. Push never blocks.
type Bridge[T any] struct {
	mu        sync.Mutex
	items     []T
	notify    chan struct{}
	cancelled func() bool
}

// NewBridge creates a bridge. Once cancelled reports true, Push drops events.
func NewBridge[T any](cancelled func() bool) *Bridge[T] {
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	return &Bridge[T]{
		notify:    make(chan struct{}, 1),
		cancelled: cancelled,
	}
}

// Push enqueues v and reports whether it was accepted.
func (b *Bridge[T]) Push(v T) bool {
	if b.cancelled() {
		return false
	}
	b.mu.Lock()
	b.items = append(b.items, v)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop returns the next item, waiting up to timeout. Queued items are returned
// even after ctx is done; ok is false on timeout or when ctx ends with the
// queue empty.
func (b *Bridge[T]) Pop(ctx context.Context, timeout time.Duration) (v T, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			v = b.items[0]
			var zero T
			b.items[0] = zero
			b.items = b.items[1:]
			b.mu.Unlock()
			return v, true
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-timer.C:
			return v, false
		case <-ctx.Done():
			return v, false
		}
	}
}

// Len returns the number of queued items.
func (b *Bridge[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
