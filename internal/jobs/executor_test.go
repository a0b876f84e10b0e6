package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startExecutor(t *testing.T, cfg ExecutorConfig) *Executor {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	e := NewExecutor(cfg)
	go e.Start(ctx)
	return e
}

func TestExecutor_Run(t *testing.T) {
	e := startExecutor(t, ExecutorConfig{})

	got, err := e.Run(context.Background(), "job-1", func(ctx context.Context) (any, error) {
		return "text", nil
	})
	if err != nil || got != "text" {
		t.Fatalf("Run() = %v, %v", got, err)
	}
}

func TestExecutor_SingleSlot(t *testing.T) {
	e := startExecutor(t, ExecutorConfig{WorkerCount: 1})

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Run(context.Background(), "job", func(ctx context.Context) (any, error) {
				n := inFlight.Add(1)
				for {
					cur := maxInFlight.Load()
					if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil, nil
			})
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("expected at most one call in flight, saw %d", maxInFlight.Load())
	}
}

func TestExecutor_CallerGivesUp(t *testing.T) {
	e := startExecutor(t, ExecutorConfig{})

	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(ctx, "job", func(context.Context) (any, error) {
			<-release
			return nil, nil
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after caller cancelled")
	}

	// The abandoned call still holds the slot until it returns
	if e.Status().InFlight != 1 {
		t.Errorf("expected slot still busy, got %+v", e.Status())
	}
	close(release)
}

func TestExecutor_SkipsCancelledQueuedWork(t *testing.T) {
	e := startExecutor(t, ExecutorConfig{})

	block := make(chan struct{})
	go func() {
		_, _ = e.Run(context.Background(), "first", func(context.Context) (any, error) {
			<-block
			return nil, nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	var ran atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := e.Run(ctx, "second", func(context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	close(block)
	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Error("cancelled queued work should not run")
	}
}

func TestExecutor_Panic(t *testing.T) {
	e := startExecutor(t, ExecutorConfig{})

	_, err := e.Run(context.Background(), "job", func(context.Context) (any, error) {
		panic("engine exploded")
	})
	if err == nil || !strings.Contains(err.Error(), "engine exploded") {
		t.Errorf("expected recovered panic, got %v", err)
	}

	// Worker survives the panic
	got, err := e.Run(context.Background(), "job", func(context.Context) (any, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Errorf("executor should keep working after a panic, got %v, %v", got, err)
	}
}

func TestExecutor_QueueFull(t *testing.T) {
	e := NewExecutor(ExecutorConfig{QueueSize: 1})
	// Not started: the first unit sits in the queue

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	go func() { _, _ = e.Run(ctx, "a", func(context.Context) (any, error) { return nil, nil }) }()
	time.Sleep(5 * time.Millisecond)

	_, err := e.Run(context.Background(), "b", func(context.Context) (any, error) { return nil, nil })
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}
