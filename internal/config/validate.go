package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidConfig is returned when a loaded config fails schema validation.
var ErrInvalidConfig = errors.New("invalid config")

const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "log": {
      "type": "object",
      "properties": {
        "level": {"enum": ["debug", "info", "warn", "error"]}
      }
    },
    "server": {
      "type": "object",
      "properties": {
        "host": {"type": "string"},
        "port": {"type": "string", "pattern": "^[0-9]{1,5}$"},
        "read_timeout": {"type": "integer", "minimum": 0},
        "idle_timeout": {"type": "integer", "minimum": 0}
      }
    },
    "upload": {
      "type": "object",
      "properties": {
        "max_size_mb": {"type": "integer", "minimum": 0},
        "allowed_extensions": {
          "type": ["array", "null"],
          "items": {"type": "string", "pattern": "^\\.[a-z0-9]+$"}
        }
      }
    },
    "engine": {
      "type": "object",
      "properties": {
        "type": {"enum": ["openai", "mock", "tesseract"]},
        "max_tokens": {"type": "integer", "minimum": 0},
        "timeout_seconds": {"type": "integer", "minimum": 0},
        "max_retries": {"type": "integer", "minimum": 0},
        "workers": {"type": "integer", "minimum": 1}
      }
    },
    "container": {
      "type": "object",
      "properties": {
        "port": {"type": "string", "pattern": "^[0-9]{1,5}$"},
        "ready_timeout": {"type": "integer", "minimum": 0}
      }
    },
    "pipeline": {
      "type": "object",
      "properties": {
        "renderer": {"enum": ["fitz", "pdftoppm"]},
        "render_dpi": {"type": "integer", "minimum": 36, "maximum": 1200},
        "materialize_timeout": {"type": "integer", "minimum": 0},
        "materialize_interval": {"type": "integer", "minimum": 1},
        "scan_timeout": {"type": "integer", "minimum": 0},
        "page_yield": {"type": "integer", "minimum": 0},
        "poll_interval": {"type": "integer", "minimum": 1}
      }
    }
  }
}`

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("config.json", strings.NewReader(configSchema)); err != nil {
			compileErr = fmt.Errorf("failed to load config schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile("config.json")
	})
	return compiledSchema, compileErr
}

// Validate checks cfg against the config schema.
func Validate(cfg *Config) error {
	sch, err := schema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	if err := sch.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.TrimSpace(verr.Error()))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
