package endpoints

import (
	"github.com/jackzampolin/docstream/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// MaxUploadBytes caps a multipart request body. Zero means unlimited.
	MaxUploadBytes int64
	// AllowedExtensions restricts upload file types. Empty means the defaults.
	AllowedExtensions []string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	upload := uploadLimits{maxBytes: cfg.MaxUploadBytes, allowed: cfg.AllowedExtensions}
	return []api.Endpoint{
		&RootEndpoint{},
		&HealthEndpoint{},
		&ConfigsEndpoint{},

		// OCR endpoints
		&OCREndpoint{limits: upload},
		&OCRStreamEndpoint{limits: upload},
		&CancelEndpoint{},

		// Job monitor endpoints
		&ListJobsEndpoint{},
		&WatchJobsEndpoint{},

		&SwaggerEndpoint{},
		&SwaggerUIEndpoint{},

		&OutputsEndpoint{},
	}
}
