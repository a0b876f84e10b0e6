package engine

import (
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseRefs(t *testing.T) {
	text := "Title\n<|ref|>image<|/ref|><|det|>[[0, 0, 499, 499]]<|/det|>\n" +
		"<|ref|>table<|/ref|><|det|>[[10,20,30,40], [50, 60, 70, 80]]<|/det|>"

	refs := ParseRefs(text)
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(refs))
	}
	if refs[0].Label != "image" || len(refs[0].Boxes) != 1 {
		t.Errorf("unexpected first ref %+v", refs[0])
	}
	if refs[1].Label != "table" || len(refs[1].Boxes) != 2 {
		t.Errorf("unexpected second ref %+v", refs[1])
	}
	if refs[1].Boxes[1] != image.Rect(50, 60, 70, 80) {
		t.Errorf("unexpected box %v", refs[1].Boxes[1])
	}
}

func TestParseRefs_None(t *testing.T) {
	if refs := ParseRefs("plain text"); len(refs) != 0 {
		t.Errorf("expected no refs, got %d", len(refs))
	}
}

func TestScaleBox(t *testing.T) {
	bounds := image.Rect(0, 0, 1998, 999)
	got := scaleBox(image.Rect(0, 0, 999, 999), bounds)
	if got != bounds {
		t.Errorf("full-grid box should cover the image, got %v", got)
	}
	got = scaleBox(image.Rect(-5, -5, 2000, 2000), bounds)
	if got != bounds {
		t.Errorf("out of range box should be clipped, got %v", got)
	}
}

func TestMaterialize(t *testing.T) {
	dir := t.TempDir()
	src := writeTestPNG(t, dir, 200, 100)
	out := filepath.Join(dir, "out")

	text := "# Heading\n<|ref|>image<|/ref|><|det|>[[100, 100, 500, 900]]<|/det|>\n" +
		"<|ref|>text<|/ref|><|det|>[[0, 0, 999, 100]]<|/det|>Body"

	cleaned, err := Materialize(src, out, text)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	if !strings.Contains(cleaned, "![](images/0.jpg)") {
		t.Errorf("image ref should become a markdown link, got %q", cleaned)
	}
	if strings.Contains(cleaned, "<|ref|>") {
		t.Errorf("refs should be stripped, got %q", cleaned)
	}
	if !strings.HasSuffix(cleaned, "Body") {
		t.Errorf("surrounding text should be kept, got %q", cleaned)
	}

	for _, name := range []string{BoxesImageFile, ResultMarkdownFile, filepath.Join(ImagesDirName, "0.jpg")} {
		info, err := os.Stat(filepath.Join(out, name))
		if err != nil {
			t.Errorf("expected %s: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}

	mmd, _ := os.ReadFile(filepath.Join(out, ResultMarkdownFile))
	if string(mmd) != cleaned {
		t.Error("result.mmd should hold the cleaned text")
	}
}

func TestMaterialize_BadImage(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.png")
	if err := os.WriteFile(bad, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Materialize(bad, dir, "text"); err == nil {
		t.Error("expected decode error")
	}
}

func TestWriteBoxes(t *testing.T) {
	dir := t.TempDir()
	src := writeTestPNG(t, dir, 40, 40)

	boxes := []image.Rectangle{image.Rect(5, 5, 20, 20), image.Rect(100, 100, 200, 200)}
	if err := WriteBoxes(src, dir, boxes, "text"); err != nil {
		t.Fatalf("WriteBoxes() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, BoxesImageFile)); err != nil {
		t.Errorf("expected boxes image: %v", err)
	}
}
