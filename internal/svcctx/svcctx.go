// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/docstream/internal/config"
	"github.com/jackzampolin/docstream/internal/engine"
	"github.com/jackzampolin/docstream/internal/home"
	"github.com/jackzampolin/docstream/internal/jobs"
	"github.com/jackzampolin/docstream/internal/ocr"
	"github.com/jackzampolin/docstream/internal/stream"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Registry      *jobs.Registry
	Executor      *jobs.Executor
	Feed          *jobs.Feed
	OCR           *ocr.Service
	Multiplexer   *stream.Multiplexer
	Engine        engine.Engine
	ConfigManager *config.Manager
	Logger        *slog.Logger
	Home          *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// RegistryFrom extracts the job registry from context.
func RegistryFrom(ctx context.Context) *jobs.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// ExecutorFrom extracts the inference executor from context.
func ExecutorFrom(ctx context.Context) *jobs.Executor {
	if s := ServicesFrom(ctx); s != nil {
		return s.Executor
	}
	return nil
}

// FeedFrom extracts the job lifecycle feed from context.
func FeedFrom(ctx context.Context) *jobs.Feed {
	if s := ServicesFrom(ctx); s != nil {
		return s.Feed
	}
	return nil
}

// OCRFrom extracts the OCR service from context.
func OCRFrom(ctx context.Context) *ocr.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.OCR
	}
	return nil
}

// MultiplexerFrom extracts the stream multiplexer from context.
func MultiplexerFrom(ctx context.Context) *stream.Multiplexer {
	if s := ServicesFrom(ctx); s != nil {
		return s.Multiplexer
	}
	return nil
}

// EngineFrom extracts the inference engine from context.
func EngineFrom(ctx context.Context) engine.Engine {
	if s := ServicesFrom(ctx); s != nil {
		return s.Engine
	}
	return nil
}

// ConfigManagerFrom extracts the config manager from context.
func ConfigManagerFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigManager
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
