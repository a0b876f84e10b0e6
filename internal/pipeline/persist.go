package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	treeblood "github.com/wyatt915/goldmark-treeblood"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Output file names under a job's output dir.
const (
	StreamFile   = "result_stream.md"
	MermaidFile  = "result.mmd"
	MarkdownFile = "result.md"
	HTMLFile     = "result.html"
)

// appendStream appends one section to result_stream.md and syncs it to disk.
func appendStream(dir, header, text string) error {
	f, err := os.OpenFile(filepath.Join(dir, StreamFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open stream file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if header != "" {
		buf.WriteString(header)
		buf.WriteByte('\n')
	}
	buf.WriteString(text)
	buf.WriteString("\n\n")

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write stream file: %w", err)
	}
	return f.Sync()
}

// resetStream truncates result_stream.md.
func resetStream(dir string) error {
	return os.WriteFile(filepath.Join(dir, StreamFile), nil, 0o644)
}

// isMermaid reports whether text is a mermaid diagram rather than markdown.
func isMermaid(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.Contains(text, "```mermaid") ||
		strings.HasPrefix(trimmed, "graph ") ||
		strings.HasPrefix(trimmed, "flowchart ")
}

// saveResult writes the final text as result.mmd or result.md (plus
// result.html when renderHTML is set). It returns the written path, or ""
// when nothing was saved.
func saveResult(dir, text, outputFormat string, renderHTML bool) (string, error) {
	if outputFormat == "rec" {
		return "", nil
	}
	if strings.TrimSpace(text) == "" || strings.Contains(text, Placeholder) {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	if isMermaid(text) {
		content := text
		if !strings.Contains(text, "```mermaid") {
			content = "```mermaid\n" + strings.TrimSpace(text) + "\n```"
		}
		path := filepath.Join(dir, MermaidFile)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", MermaidFile, err)
		}
		return path, nil
	}

	path := filepath.Join(dir, MarkdownFile)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", MarkdownFile, err)
	}
	if renderHTML {
		if err := writeHTML(filepath.Join(dir, HTMLFile), text); err != nil {
			return path, err
		}
	}
	return path, nil
}

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		treeblood.MathML(),
	),
)

func writeHTML(path, text string) error {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>OCR result</title></head><body>\n")
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	buf.WriteString("</body></html>\n")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", HTMLFile, err)
	}
	return nil
}
