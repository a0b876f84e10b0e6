package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// TaskHandle is the registry's view of a running job task.
type TaskHandle interface {
	Finished() bool
	Cancel()
}

// Task runs a function in its own goroutine and holds its outcome.
type Task[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result T
	err    error
}

// Go starts fn on a context derived from ctx. A panic inside fn is recovered
// and reported as the task error.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Task[T] {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task[T]{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				t.mu.Lock()
				t.err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
				t.mu.Unlock()
			}
		}()

		res, err := fn(ctx)
		t.mu.Lock()
		t.result, t.err = res, err
		t.mu.Unlock()
	}()

	return t
}

// Finished reports whether fn has returned.
func (t *Task[T]) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Cancel cancels the task's context. The function decides when to return.
func (t *Task[T]) Cancel() {
	t.cancel()
}

// Done is closed when fn returns.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until fn returns or ctx is done.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.result, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

var _ TaskHandle = (*Task[struct{}])(nil)
