// Package ocr resolves modes and output formats into engine parameters and
// prompts, prepares source documents and runs them through the page pipeline.
package ocr

import (
	"strings"

	"github.com/jackzampolin/docstream/internal/pipeline"
)

// DefaultMode is used when a request names no mode or an unknown one.
const DefaultMode = "base"

// Mode is a named engine resolution preset.
type Mode struct {
	Value     string `json:"value"`
	Label     string `json:"label"`
	BaseSize  int    `json:"base_size"`
	ImageSize int    `json:"image_size"`
	CropMode  bool   `json:"crop_mode"`
}

// Params returns the pipeline parameters for m.
func (m Mode) Params() pipeline.ModeParams {
	return pipeline.ModeParams{BaseSize: m.BaseSize, ImageSize: m.ImageSize, CropMode: m.CropMode}
}

var modes = []Mode{
	{Value: "tiny", Label: "Tiny (512×512, 64 tokens)", BaseSize: 512, ImageSize: 512},
	{Value: "small", Label: "Small (640×640, 100 tokens)", BaseSize: 640, ImageSize: 640},
	{Value: "base", Label: "Base (1024×1024, 256 tokens)", BaseSize: 1024, ImageSize: 1024},
	{Value: "large", Label: "Large (1280×1280, 400 tokens)", BaseSize: 1280, ImageSize: 1280},
	{Value: "gundam", Label: "Gundam (dynamic resolution)", BaseSize: 1024, ImageSize: 640, CropMode: true},
}

// Modes returns the available modes in display order.
func Modes() []Mode {
	out := make([]Mode, len(modes))
	copy(out, modes)
	return out
}

// ResolveMode looks up a mode by name. Unknown names fall back to DefaultMode
// and report false.
func ResolveMode(name string) (Mode, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	var fallback Mode
	for _, m := range modes {
		if m.Value == name {
			return m, true
		}
		if m.Value == DefaultMode {
			fallback = m
		}
	}
	return fallback, false
}
