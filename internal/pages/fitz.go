package pages

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"

	"github.com/gen2brain/go-fitz"
)

const FitzName = "fitz"

// Fitz renders pages in-process with MuPDF.
type Fitz struct {
	DPI    int
	Logger *slog.Logger
}

func (r *Fitz) Name() string { return FitzName }

// Render converts each page to a PNG at r.DPI.
func (r *Fitz) Render(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	count := doc.NumPage()
	if count == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	if err := ensureDir(outDir); err != nil {
		return nil, err
	}

	paths := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := doc.ImageDPI(i, float64(r.DPI))
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i+1, err)
		}

		path := pagePath(outDir, i+1)
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("create page %d: %w", i+1, err)
		}
		err = png.Encode(f, img)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i+1, err)
		}
		paths = append(paths, path)
	}

	if r.Logger != nil {
		r.Logger.Info("rendered pdf", "renderer", FitzName, "pages", count, "dpi", r.DPI)
	}
	return paths, nil
}
