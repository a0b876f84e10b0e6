// Package engine defines the inference engine contract and its implementations.
//
// An engine runs one model call per request. Engines are not reentrant from
// the caller's point of view: the jobs executor serializes calls onto a fixed
// number of slots. Cancellation reaches an in-flight call through a Flag that
// the engine polls while it works.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrCancelled is returned by Infer when the request's cancel flag was set.
var ErrCancelled = errors.New("inference_cancelled")

// ErrNotReady is returned when an engine is used before its backend is reachable.
var ErrNotReady = errors.New("engine not ready")

// Flag is a cancel signal that crosses into the inference worker.
// Once set it stays set.
type Flag struct {
	set atomic.Bool
}

// Set raises the flag. Safe to call repeatedly from any goroutine.
func (f *Flag) Set() {
	if f == nil {
		return
	}
	f.set.Store(true)
}

// IsSet reports whether the flag has been raised. A nil flag is never set.
func (f *Flag) IsSet() bool {
	if f == nil {
		return false
	}
	return f.set.Load()
}

// Request is a single inference call.
type Request struct {
	Prompt    string
	ImagePath string

	// OutputDir receives engine artifacts (result.mmd, result_with_boxes.jpg, images/).
	OutputDir string

	BaseSize  int
	ImageSize int
	CropMode  bool

	// Cancel is polled during inference.
	Cancel *Flag
}

// Cancelled reports whether the request's cancel flag is raised.
func (r *Request) Cancelled() bool {
	return r != nil && r.Cancel.IsSet()
}

// Engine runs OCR inference.
//
// Infer returns the raw model result. Implementations may return a string,
// a []string, a []any, a map[string]any with a "text" key, or nil when the
// model produced nothing. Callers normalize the shape.
type Engine interface {
	Name() string
	Infer(ctx context.Context, req *Request) (any, error)
	Ready(ctx context.Context) bool
}
