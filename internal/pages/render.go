package pages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// DirName is the subdirectory of a job's output dir that holds rendered pages.
const DirName = "pdf_pages"

// DefaultDPI renders at twice the PDF's 72 DPI user space.
const DefaultDPI = 144

// Renderer rasterizes every page of a PDF into PNG files.
type Renderer interface {
	Name() string
	// Render writes page_N.png files (1-based) into outDir and returns their paths in page order.
	Render(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

// NewRenderer returns the renderer named by the pipeline.renderer setting.
func NewRenderer(name string, dpi int, logger *slog.Logger) (Renderer, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if logger == nil {
		logger = slog.Default()
	}
	switch name {
	case "", FitzName:
		return &Fitz{DPI: dpi, Logger: logger}, nil
	case PdftoppmName:
		return NewPdftoppm(dpi, logger), nil
	default:
		return nil, fmt.Errorf("unknown renderer %q", name)
	}
}

func pagePath(outDir string, n int) string {
	return filepath.Join(outDir, fmt.Sprintf("page_%d.png", n))
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create pages dir: %w", err)
	}
	return nil
}
