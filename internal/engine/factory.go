package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jackzampolin/docstream/internal/config"
)

// Constructor builds an engine from config.
type Constructor func(cfg config.EngineCfg, logger *slog.Logger) (Engine, error)

var (
	constructorsMu sync.RWMutex
	constructors   = map[string]Constructor{
		OpenAIName: func(cfg config.EngineCfg, logger *slog.Logger) (Engine, error) {
			return NewOpenAI(OpenAIConfig{
				BaseURL:    cfg.BaseURL,
				APIKey:     cfg.ResolvedAPIKey(),
				Model:      cfg.Model,
				MaxTokens:  cfg.MaxTokens,
				MaxRetries: cfg.MaxRetries,
				Timeout:    cfg.Timeout(),
				Logger:     logger,
			}), nil
		},
		MockName: func(cfg config.EngineCfg, logger *slog.Logger) (Engine, error) {
			return NewMock("mock OCR output"), nil
		},
	}
)

// Register adds an engine type. Engines behind build tags register from init.
func Register(name string, fn Constructor) {
	constructorsMu.Lock()
	defer constructorsMu.Unlock()
	constructors[name] = fn
}

// Types returns the registered engine types, sorted.
func Types() []string {
	constructorsMu.RLock()
	defer constructorsMu.RUnlock()
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the engine selected by cfg.Type.
func New(cfg config.EngineCfg, logger *slog.Logger) (Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	constructorsMu.RLock()
	fn, ok := constructors[cfg.Type]
	constructorsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown engine type %q (available: %v)", cfg.Type, Types())
	}
	eng, err := fn(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create %s engine: %w", cfg.Type, err)
	}
	logger.Info("inference engine configured", "type", cfg.Type, "model", cfg.Model)
	return eng, nil
}
