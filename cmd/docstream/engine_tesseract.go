//go:build tesseract

package main

// Registers the "tesseract" engine type.
import _ "github.com/jackzampolin/docstream/internal/engine/tesseract"
