package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// MockName is the engine type used for tests and local development.
const MockName = "mock"

// MockResponse scripts one Infer call.
type MockResponse struct {
	Result any
	Err    error

	// Files are written into Request.OutputDir before Infer returns,
	// keyed by path relative to the output dir.
	Files map[string][]byte
}

// Mock is a scripted Engine. Calls consume Responses in order; once they
// run out every call returns DefaultResult.
type Mock struct {
	Latency       time.Duration
	DefaultResult any
	Responses     []MockResponse
	NotReady      bool

	mu       sync.Mutex
	calls    int
	requests []Request

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// NewMock creates a mock engine that answers every call with text.
func NewMock(text string) *Mock {
	return &Mock{
		Latency:       10 * time.Millisecond,
		DefaultResult: text,
	}
}

// Name returns MockName.
func (m *Mock) Name() string {
	return MockName
}

// Ready reports whether the mock is configured as ready.
func (m *Mock) Ready(ctx context.Context) bool {
	return !m.NotReady
}

// Infer waits for Latency while polling the cancel flag, then returns the next scripted response.
func (m *Mock) Infer(ctx context.Context, req *Request) (any, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.requests = append(m.requests, *req)
	m.mu.Unlock()

	deadline := time.Now().Add(m.Latency)
	for {
		if req.Cancelled() {
			return nil, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			break
		}
		time.Sleep(min(5*time.Millisecond, time.Until(deadline)))
	}

	resp := MockResponse{Result: m.DefaultResult}
	if idx < len(m.Responses) {
		resp = m.Responses[idx]
	}

	for rel, data := range resp.Files {
		path := filepath.Join(req.OutputDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mock: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("mock: %w", err)
		}
	}
	return resp.Result, resp.Err
}

// Calls returns how many times Infer was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request seen so far.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// MaxInFlight returns the highest number of concurrent Infer calls observed.
func (m *Mock) MaxInFlight() int {
	return int(m.maxInFlight.Load())
}

var _ Engine = (*Mock)(nil)
