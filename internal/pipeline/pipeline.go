// Package pipeline drives a document's page images through the inference
// engine one page at a time, streaming progress as each page completes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackzampolin/docstream/internal/engine"
	"github.com/jackzampolin/docstream/internal/jobs"
	"github.com/jackzampolin/docstream/internal/recovery"
)

// Placeholder is the page text used when neither the engine nor recovery produced anything.
const Placeholder = "[OCR returned empty, check image quality or prompt]"

// ErrCancelled is returned when the job was cancelled while the pipeline ran.
var ErrCancelled = errors.New("pipeline cancelled")

// EventKind distinguishes PDF pages from a single image result.
type EventKind string

const (
	KindPage  EventKind = "page"
	KindImage EventKind = "image"
)

// ProgressEvent reports one completed page.
type ProgressEvent struct {
	Kind      EventKind
	Page      int // 1-based; zero for KindImage
	Total     int
	Text      string
	ImagePath string // annotated image, empty if none appeared
}

// Source records where a page's text came from.
type Source string

const (
	SourceEngine      Source = "engine"
	SourceRecovered   Source = "recovered"
	SourcePlaceholder Source = "placeholder"
)

// Status summarizes a job's text quality.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusEmpty   Status = "empty"
)

// ModeParams are the engine resolution settings for a request.
type ModeParams struct {
	BaseSize  int  `json:"base_size"`
	ImageSize int  `json:"image_size"`
	CropMode  bool `json:"crop_mode"`
}

// Request describes one pipeline run.
type Request struct {
	JobID        string
	Pages        []string // page image paths, in order
	Single       bool     // Pages holds one standalone image
	OutputDir    string
	Prompt       string
	OutputFormat string
	Params       ModeParams
	Flag         *engine.Flag
}

// PageResult is the outcome of one page.
type PageResult struct {
	Page      int    `json:"page"`
	Source    Source `json:"source"`
	ImagePath string `json:"image_path,omitempty"`
}

// Result is the aggregated outcome of a run.
type Result struct {
	Text       string
	Prompt     string
	ImagePaths []string
	Status     Status
	Pages      []PageResult
	SavedPath  string // result.md or result.mmd, empty if nothing was saved
}

// Config configures a Pipeline.
type Config struct {
	Engine    engine.Engine
	Executor  *jobs.Executor      // serializes inference; nil calls the engine directly
	Recoverer *recovery.Recoverer // nil uses defaults

	MaterializeTimeout  time.Duration // wait for result_with_boxes.jpg (default 6s)
	MaterializeInterval time.Duration // default 100ms
	PageYield           time.Duration // pause after each emitted page (default 100ms, negative disables)
	RenderHTML          bool

	Logger *slog.Logger
}

// Pipeline runs OCR over page images.
type Pipeline struct {
	engine    engine.Engine
	executor  *jobs.Executor
	recoverer *recovery.Recoverer

	materializeTimeout  time.Duration
	materializeInterval time.Duration
	pageYield           time.Duration
	renderHTML          bool

	logger *slog.Logger
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaterializeTimeout <= 0 {
		cfg.MaterializeTimeout = 6 * time.Second
	}
	if cfg.MaterializeInterval <= 0 {
		cfg.MaterializeInterval = 100 * time.Millisecond
	}
	if cfg.PageYield == 0 {
		cfg.PageYield = 100 * time.Millisecond
	} else if cfg.PageYield < 0 {
		cfg.PageYield = 0
	}
	rec := cfg.Recoverer
	if rec == nil {
		rec = recovery.New(recovery.Options{Exclude: []string{StreamFile}, Logger: logger})
	}
	return &Pipeline{
		engine:              cfg.Engine,
		executor:            cfg.Executor,
		recoverer:           rec,
		materializeTimeout:  cfg.MaterializeTimeout,
		materializeInterval: cfg.MaterializeInterval,
		pageYield:           cfg.PageYield,
		renderHTML:          cfg.RenderHTML,
		logger:              logger,
	}
}

// Run processes req.Pages in order, calling emit after each page.
// It returns ErrCancelled if the job is cancelled at any checkpoint.
func (p *Pipeline) Run(ctx context.Context, req Request, emit func(ProgressEvent)) (*Result, error) {
	if len(req.Pages) == 0 {
		return nil, errors.New("no pages to process")
	}
	if emit == nil {
		emit = func(ProgressEvent) {}
	}
	logger := p.logger.With("job_id", req.JobID)

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if req.Single {
		return p.runSingle(ctx, req, emit, logger)
	}
	return p.runPages(ctx, req, emit, logger)
}

func (p *Pipeline) runPages(ctx context.Context, req Request, emit func(ProgressEvent), logger *slog.Logger) (*Result, error) {
	total := len(req.Pages)
	res := &Result{Prompt: req.Prompt, Pages: make([]PageResult, 0, total)}
	sections := make([]string, 0, total)

	if err := resetStream(req.OutputDir); err != nil {
		logger.Warn("failed to reset stream file", "error", err)
	}

	for i, pagePath := range req.Pages {
		n := i + 1
		if p.cancelled(ctx, req) {
			return nil, ErrCancelled
		}

		pageDir := filepath.Join(req.OutputDir, fmt.Sprintf("page_%d", n))
		if err := os.MkdirAll(pageDir, 0o755); err != nil {
			return nil, fmt.Errorf("create page dir: %w", err)
		}

		logger.Info("processing page", "page", n, "total", total)
		text, source, err := p.inferPage(ctx, req, pagePath, pageDir, true)
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return nil, err
			}
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
		logger.Info("page text ready", "page", n, "source", source, "chars", len(text))

		header := fmt.Sprintf("--- Page %d ---", n)
		sections = append(sections, header+"\n"+text)
		if err := appendStream(req.OutputDir, header, text); err != nil {
			logger.Warn("failed to append stream file", "page", n, "error", err)
		}

		imagePath := p.waitForBoxes(ctx, pageDir)
		if imagePath != "" {
			res.ImagePaths = append(res.ImagePaths, imagePath)
		}
		res.Pages = append(res.Pages, PageResult{Page: n, Source: source, ImagePath: imagePath})

		emit(ProgressEvent{Kind: KindPage, Page: n, Total: total, Text: text, ImagePath: imagePath})
		if !sleep(ctx, p.pageYield) || p.cancelled(ctx, req) {
			return nil, ErrCancelled
		}
	}

	res.Text = strings.Join(sections, "\n\n")
	placeholders := 0
	for _, pr := range res.Pages {
		if pr.Source == SourcePlaceholder {
			placeholders++
		}
	}

	switch {
	case placeholders == 0:
		res.Status = StatusOK
	case placeholders < total:
		res.Status = StatusPartial
	default:
		res.Status = StatusEmpty
		if text := p.recoverer.Recover(ctx, req.OutputDir); strings.TrimSpace(text) != "" {
			logger.Info("recovered whole-document output", "chars", len(text))
			res.Text = text
			res.Status = StatusOK
		}
	}

	if p.cancelled(ctx, req) {
		return nil, ErrCancelled
	}
	p.save(req, res, logger)
	return res, nil
}

func (p *Pipeline) runSingle(ctx context.Context, req Request, emit func(ProgressEvent), logger *slog.Logger) (*Result, error) {
	res := &Result{Prompt: req.Prompt}
	if p.cancelled(ctx, req) {
		return nil, ErrCancelled
	}

	// rec only needs the annotated image, so a nil result is not recovered.
	allowRecovery := req.OutputFormat != "rec"
	text, source, err := p.inferPage(ctx, req, req.Pages[0], req.OutputDir, allowRecovery)
	if err != nil {
		return nil, err
	}
	if p.cancelled(ctx, req) {
		return nil, ErrCancelled
	}
	logger.Info("image text ready", "source", source, "chars", len(text))

	res.Text = text
	if err := appendStream(req.OutputDir, "--- Image Result ---", text); err != nil {
		logger.Warn("failed to append stream file", "error", err)
	}

	imagePath := p.waitForBoxes(ctx, req.OutputDir)
	if imagePath != "" {
		res.ImagePaths = append(res.ImagePaths, imagePath)
	}
	res.Pages = []PageResult{{Page: 1, Source: source, ImagePath: imagePath}}

	res.Status = StatusOK
	if source == SourcePlaceholder {
		res.Status = StatusEmpty
	}

	emit(ProgressEvent{Kind: KindImage, Text: text, ImagePath: imagePath})
	p.save(req, res, logger)
	return res, nil
}

// inferPage runs one engine call through the executor and normalizes the result.
// When the result is empty and allowRecovery is set, outputs left in dir are recovered.
func (p *Pipeline) inferPage(ctx context.Context, req Request, imagePath, dir string, allowRecovery bool) (string, Source, error) {
	engReq := &engine.Request{
		Prompt:    req.Prompt,
		ImagePath: imagePath,
		OutputDir: dir,
		BaseSize:  req.Params.BaseSize,
		ImageSize: req.Params.ImageSize,
		CropMode:  req.Params.CropMode,
		Cancel:    req.Flag,
	}
	infer := func(ctx context.Context) (any, error) {
		return p.engine.Infer(ctx, engReq)
	}

	var (
		raw any
		err error
	)
	if p.executor != nil {
		raw, err = p.executor.Run(ctx, req.JobID, infer)
	} else {
		raw, err = infer(ctx)
	}
	if err != nil {
		if errors.Is(err, engine.ErrCancelled) || p.cancelled(ctx, req) {
			return "", "", ErrCancelled
		}
		return "", "", err
	}

	if text, ok := Normalize(raw); ok {
		return text, SourceEngine, nil
	}
	if !allowRecovery {
		return "", SourceEngine, nil
	}
	if text := p.recoverer.Recover(ctx, dir); strings.TrimSpace(text) != "" {
		return text, SourceRecovered, nil
	}
	if p.cancelled(ctx, req) {
		return "", "", ErrCancelled
	}
	return Placeholder, SourcePlaceholder, nil
}

// waitForBoxes returns the annotated image path once it appears in dir.
func (p *Pipeline) waitForBoxes(ctx context.Context, dir string) string {
	path := filepath.Join(dir, engine.BoxesImageFile)
	if recovery.WaitForFile(ctx, path, p.materializeTimeout, p.materializeInterval) {
		return path
	}
	return ""
}

func (p *Pipeline) save(req Request, res *Result, logger *slog.Logger) {
	path, err := saveResult(req.OutputDir, res.Text, req.OutputFormat, p.renderHTML)
	if err != nil {
		logger.Warn("failed to save result", "error", err)
	}
	res.SavedPath = path
}

func (p *Pipeline) cancelled(ctx context.Context, req Request) bool {
	return ctx.Err() != nil || req.Flag.IsSet()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
