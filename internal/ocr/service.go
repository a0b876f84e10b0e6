package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jackzampolin/docstream/internal/engine"
	"github.com/jackzampolin/docstream/internal/pages"
	"github.com/jackzampolin/docstream/internal/pipeline"
)

// Request is one OCR job as submitted by a caller.
type Request struct {
	JobID        string
	SourcePath   string
	OutputDir    string
	Mode         string
	OutputFormat string
	CustomPrompt string
	Flag         *engine.Flag
}

// Plan is a validated request with its resolved settings.
type Plan struct {
	Kind         pages.Kind
	Mode         Mode
	OutputFormat string
	Prompt       string
}

// Response is a finished job.
type Response struct {
	*pipeline.Result
	Mode         string
	OutputFormat string
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Pipeline          *pipeline.Pipeline
	Renderer          pages.Renderer // nil uses the fitz renderer
	AllowedExtensions []string
	Logger            *slog.Logger
}

// Service prepares sources and runs them through the pipeline.
type Service struct {
	pipeline *pipeline.Pipeline
	renderer pages.Renderer
	allowed  []string
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := cfg.Renderer
	if renderer == nil {
		var err error
		if renderer, err = pages.NewRenderer(pages.FitzName, pages.DefaultDPI, logger); err != nil {
			return nil, err
		}
	}
	return &Service{
		pipeline: cfg.Pipeline,
		renderer: renderer,
		allowed:  cfg.AllowedExtensions,
		logger:   logger,
	}, nil
}

// Validate checks the source file and resolves the prompt and mode without
// running anything. Errors wrap pages.ErrUnsupported, pages.ErrEmpty,
// pages.ErrInvalidImage, ErrUnknownFormat or ErrTargetRequired.
func (s *Service) Validate(req Request) (*Plan, error) {
	kind, err := pages.Validate(req.SourcePath, s.allowed)
	if err != nil {
		return nil, err
	}

	format := strings.ToLower(strings.TrimSpace(req.OutputFormat))
	if format == "" {
		format = DefaultFormat
	}
	prompt, err := ResolvePrompt(format, req.CustomPrompt)
	if err != nil {
		return nil, err
	}

	mode, ok := ResolveMode(req.Mode)
	if !ok && req.Mode != "" {
		s.logger.Warn("unknown mode, using default", "mode", req.Mode, "default", DefaultMode)
	}

	return &Plan{Kind: kind, Mode: mode, OutputFormat: format, Prompt: prompt}, nil
}

// Process validates the request, rasterizes PDFs and runs the pipeline,
// calling emit after each page. It returns pipeline.ErrCancelled when the
// job is cancelled.
func (s *Service) Process(ctx context.Context, req Request, emit func(pipeline.ProgressEvent)) (*Response, error) {
	plan, err := s.Validate(req)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("job_id", req.JobID)
	logger.Info("processing document",
		"file", filepath.Base(req.SourcePath),
		"kind", plan.Kind,
		"mode", plan.Mode.Value,
		"output_format", plan.OutputFormat)

	pipeReq := pipeline.Request{
		JobID:        req.JobID,
		Pages:        []string{req.SourcePath},
		Single:       true,
		OutputDir:    req.OutputDir,
		Prompt:       plan.Prompt,
		OutputFormat: plan.OutputFormat,
		Params:       plan.Mode.Params(),
		Flag:         req.Flag,
	}

	if plan.Kind == pages.KindPDF {
		if ctx.Err() != nil || req.Flag.IsSet() {
			return nil, pipeline.ErrCancelled
		}
		paths, err := s.renderer.Render(ctx, req.SourcePath, filepath.Join(req.OutputDir, pages.DirName))
		if err != nil {
			if ctx.Err() != nil {
				return nil, pipeline.ErrCancelled
			}
			return nil, fmt.Errorf("rasterize pdf: %w", err)
		}
		logger.Info("pdf rasterized", "pages", len(paths), "renderer", s.renderer.Name())
		pipeReq.Pages = paths
		pipeReq.Single = false
	}

	res, err := s.pipeline.Run(ctx, pipeReq, emit)
	if err != nil {
		return nil, err
	}
	return &Response{Result: res, Mode: plan.Mode.Value, OutputFormat: plan.OutputFormat}, nil
}
