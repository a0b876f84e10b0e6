//go:build tesseract

// Package tesseract provides a local OCR engine backed by Tesseract.
// Build with -tags tesseract; requires libtesseract.
package tesseract

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/jackzampolin/docstream/internal/config"
	"github.com/jackzampolin/docstream/internal/engine"
)

const Name = "tesseract"

func init() {
	engine.Register(Name, func(cfg config.EngineCfg, logger *slog.Logger) (engine.Engine, error) {
		return New(cfg.Languages, logger), nil
	})
}

// Engine runs Tesseract in-process. Grounding prompts are ignored; the
// block layout is drawn instead.
type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
	logger        *slog.Logger
}

// New creates a Tesseract engine for the given languages.
func New(languages []string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		languages:     languages,
		clientFactory: gosseract.NewClient,
		logger:        logger.With("engine", Name),
	}
}

func (e *Engine) Name() string { return Name }

// Ready reports whether libtesseract is linked and reports a version.
func (e *Engine) Ready(ctx context.Context) bool {
	return gosseract.Version() != ""
}

// Infer recognizes text in req.ImagePath. Tesseract cannot be interrupted
// mid-call, so the cancel flag is checked before and after recognition.
func (e *Engine) Infer(ctx context.Context, req *engine.Request) (any, error) {
	if req.Cancelled() {
		return nil, engine.ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImage(req.ImagePath); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}
	if req.Cancelled() {
		return nil, engine.ErrCancelled
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	if req.OutputDir != "" {
		e.writeArtifacts(c, req, text)
	}
	return text, nil
}

func (e *Engine) writeArtifacts(c *gosseract.Client, req *engine.Request, text string) {
	var rects []image.Rectangle
	if boxes, err := c.GetBoundingBoxes(gosseract.RIL_BLOCK); err == nil {
		for _, b := range boxes {
			rects = append(rects, b.Box)
		}
	}
	if err := engine.WriteBoxes(req.ImagePath, req.OutputDir, rects, "text"); err != nil {
		e.logger.Warn("failed to write boxes image", "error", err)
	}
	if err := os.WriteFile(filepath.Join(req.OutputDir, engine.ResultMarkdownFile), []byte(text), 0o644); err != nil {
		e.logger.Warn("failed to write result", "error", err)
	}
}

var _ engine.Engine = (*Engine)(nil)
