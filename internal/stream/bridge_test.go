package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBridgeOrder(t *testing.T) {
	b := NewBridge[int](nil)
	for i := 0; i < 5; i++ {
		if !b.Push(i) {
			t.Fatalf("push %d rejected", i)
		}
	}
	if b.Len() != 5 {
		t.Fatalf("Len = %d", b.Len())
	}
	for i := 0; i < 5; i++ {
		v, ok := b.Pop(context.Background(), time.Second)
		if !ok || v != i {
			t.Fatalf("Pop = %d, %v; want %d", v, ok, i)
		}
	}
	if b.Len() != 0 {
		t.Errorf("Len after drain = %d", b.Len())
	}
}

func TestBridgeTimeout(t *testing.T) {
	b := NewBridge[string](nil)
	start := time.Now()
	if _, ok := b.Pop(context.Background(), 20*time.Millisecond); ok {
		t.Fatal("expected timeout")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Pop returned before the timeout")
	}
}

func TestBridgeWakesOnPush(t *testing.T) {
	b := NewBridge[int](nil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Push(42)
	}()
	v, ok := b.Pop(context.Background(), 5*time.Second)
	if !ok || v != 42 {
		t.Fatalf("Pop = %d, %v", v, ok)
	}
}

func TestBridgeDropsAfterCancel(t *testing.T) {
	var cancelled atomic.Bool
	b := NewBridge[int](cancelled.Load)
	b.Push(1)
	cancelled.Store(true)
	if b.Push(2) {
		t.Error("push accepted after cancel")
	}
	// already-queued items are still delivered
	v, ok := b.Pop(context.Background(), time.Second)
	if !ok || v != 1 {
		t.Fatalf("Pop = %d, %v", v, ok)
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d", b.Len())
	}
}

func TestBridgePopAfterContextDone(t *testing.T) {
	b := NewBridge[int](nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := b.Pop(ctx, time.Second); ok {
		t.Fatal("expected no item")
	}
	b.Push(7)
	if v, ok := b.Pop(ctx, time.Second); !ok || v != 7 {
		t.Fatalf("queued item not returned after ctx done: %d, %v", v, ok)
	}
}

func TestBridgeConcurrentProducer(t *testing.T) {
	b := NewBridge[int](nil)
	const n = 500
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			b.Push(i)
		}
	}()

	for i := 0; i < n; i++ {
		v, ok := b.Pop(context.Background(), time.Second)
		if !ok {
			t.Fatalf("timed out at %d", i)
		}
		if v != i {
			t.Fatalf("got %d, want %d", v, i)
		}
	}
	wg.Wait()
}
