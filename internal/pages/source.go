// Package pages validates uploaded sources and rasterizes PDFs into page images.
package pages

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrUnsupported  = errors.New("unsupported file type")
	ErrEmpty        = errors.New("file is empty")
	ErrInvalidImage = errors.New("invalid image file")
)

// DefaultExtensions are the accepted upload extensions.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".pdf", ".bmp", ".tiff", ".webp"}

// Kind classifies a source file.
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
)

// Allowed reports whether name has one of the allowed extensions.
// An empty allow list means DefaultExtensions.
func Allowed(name string, allowed []string) bool {
	if len(allowed) == 0 {
		allowed = DefaultExtensions
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}

// Validate checks that path exists, is non-empty, has an allowed extension
// and, for images, has a decodable header.
func Validate(path string, allowed []string) (Kind, error) {
	if !Allowed(path, allowed) {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmpty, filepath.Base(path))
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return KindPDF, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()
	if _, _, err := image.DecodeConfig(f); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return KindImage, nil
}
