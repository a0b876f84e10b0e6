package ocr

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
)

const (
	DefaultFormat = "markdown"

	// FormatRec locates a target in the image and only produces an annotated image.
	FormatRec = "rec"
)

var (
	ErrUnknownFormat  = errors.New("unknown output format")
	ErrTargetRequired = errors.New("rec format requires a target in custom_prompt")
)

// Format describes an output format and the prompt it sends to the engine.
type Format struct {
	Value         string `json:"value"`
	Label         string `json:"label"`
	Prompt        string `json:"prompt"`
	RequiresInput bool   `json:"requires_input"`
	InputType     string `json:"input_type"` // optional, none, required
	Description   string `json:"description,omitempty"`
	Placeholder   string `json:"placeholder,omitempty"`
}

var formats = []Format{
	{Value: "markdown", Label: "Markdown document", Prompt: "<image>\n<|grounding|>Convert the document to markdown.", InputType: "optional"},
	{Value: "ocr", Label: "OCR image text", Prompt: "<image>\n<|grounding|>OCR this image.", InputType: "optional"},
	{Value: "free_ocr", Label: "Free OCR (no layout)", Prompt: "<image>\nFree OCR.", InputType: "optional"},
	{Value: "figure", Label: "Figure parsing", Prompt: "<image>\nParse the figure.", InputType: "optional"},
	{
		Value:       "general",
		Label:       "Detailed description",
		Prompt:      "<image>\nDescribe this image in detail.",
		InputType:   "none",
		Description: "Returns a detailed text description of the image",
	},
	{
		Value:         FormatRec,
		Label:         "Object location",
		Prompt:        "<image>\nLocate <|ref|>{target}<|/ref|> in the image.",
		RequiresInput: true,
		InputType:     "required",
		Description:   "Returns the image annotated with bounding boxes",
		Placeholder:   "What to locate, e.g. the red button or the title",
	},
}

var recTemplate = template.Must(template.New("rec").Parse("<image>\nLocate <|ref|>{{.Target}}<|/ref|> in the image."))

// Formats returns the available output formats in display order.
func Formats() []Format {
	out := make([]Format, len(formats))
	copy(out, formats)
	return out
}

// ResolvePrompt returns the prompt for an output format. For rec the custom
// prompt is the locate target; for every other format a non-blank custom
// prompt is sent verbatim.
func ResolvePrompt(format, custom string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	custom = strings.TrimSpace(custom)

	if format == FormatRec {
		if custom == "" {
			return "", ErrTargetRequired
		}
		var b strings.Builder
		if err := recTemplate.Execute(&b, struct{ Target string }{custom}); err != nil {
			return "", fmt.Errorf("render rec prompt: %w", err)
		}
		return b.String(), nil
	}

	if custom != "" {
		return custom, nil
	}
	for _, f := range formats {
		if f.Value == format {
			return f.Prompt, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Configs is the catalog served by GET /api/configs.
type Configs struct {
	Modes         []Mode   `json:"modes"`
	OutputFormats []Format `json:"output_formats"`
	DefaultMode   string   `json:"default_mode"`
	DefaultFormat string   `json:"default_format"`
}

// Catalog returns every mode and format with the defaults.
func Catalog() Configs {
	return Configs{
		Modes:         Modes(),
		OutputFormats: Formats(),
		DefaultMode:   DefaultMode,
		DefaultFormat: DefaultFormat,
	}
}
