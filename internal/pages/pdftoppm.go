package pages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

const PdftoppmName = "pdftoppm"

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Pdftoppm renders pages with poppler's pdftoppm, one process per page.
type Pdftoppm struct {
	DPI       int
	Runner    Runner
	PageCount func(path string) (int, error)
	Logger    *slog.Logger
}

// NewPdftoppm creates a pdftoppm renderer that counts pages with pdfcpu.
func NewPdftoppm(dpi int, logger *slog.Logger) *Pdftoppm {
	return &Pdftoppm{
		DPI:       dpi,
		Runner:    execRunner{},
		PageCount: CountPages,
		Logger:    logger,
	}
}

func (r *Pdftoppm) Name() string { return PdftoppmName }

// Render runs pdftoppm for each page in order.
func (r *Pdftoppm) Render(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	count, err := r.PageCount(pdfPath)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	if err := ensureDir(outDir); err != nil {
		return nil, err
	}

	paths := make([]string, 0, count)
	for n := 1; n <= count; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := pagePath(outDir, n)
		prefix := path[:len(path)-len(".png")]
		page := strconv.Itoa(n)

		// -singlefile writes <prefix>.png with no page suffix
		output, err := r.Runner.Run(ctx, "pdftoppm",
			"-png",
			"-f", page,
			"-l", page,
			"-r", strconv.Itoa(r.DPI),
			"-singlefile",
			pdfPath,
			prefix,
		)
		if err != nil {
			return nil, fmt.Errorf("pdftoppm failed on page %d: %w (output: %s)", n, err, string(output))
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("pdftoppm did not create page %d: %w", n, err)
		}
		paths = append(paths, path)
	}

	if r.Logger != nil {
		r.Logger.Info("rendered pdf", "renderer", PdftoppmName, "pages", count, "dpi", r.DPI)
	}
	return paths, nil
}

// CountPages returns the number of pages in a PDF.
func CountPages(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	count, err := api.PageCount(f, nil)
	if err != nil {
		return 0, fmt.Errorf("count pdf pages: %w", err)
	}
	return count, nil
}
