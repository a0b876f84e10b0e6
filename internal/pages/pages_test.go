package pages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.Set(3, 3, color.Black)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

// minimalPDF builds a PDF with the given number of blank pages and a correct xref table.
func minimalPDF(pages int) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 72 72] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func writePDF(t *testing.T, path string, pages int) {
	t.Helper()
	if err := os.WriteFile(path, minimalPDF(pages), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		want    bool
	}{
		{"scan.PNG", nil, true},
		{"doc.pdf", nil, true},
		{"photo.webp", nil, true},
		{"notes.txt", nil, false},
		{"noext", nil, false},
		{"doc.pdf", []string{".png"}, false},
		{"a.png", []string{".PNG"}, true},
	}
	for _, tt := range tests {
		if got := Allowed(tt.name, tt.allowed); got != tt.want {
			t.Errorf("Allowed(%q, %v) = %v, want %v", tt.name, tt.allowed, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.png")
	writePNG(t, good)
	kind, err := Validate(good, nil)
	if err != nil {
		t.Fatalf("Validate png: %v", err)
	}
	if kind != KindImage {
		t.Errorf("kind = %q, want image", kind)
	}

	pdf := filepath.Join(dir, "doc.pdf")
	writePDF(t, pdf, 1)
	if kind, err := Validate(pdf, nil); err != nil || kind != KindPDF {
		t.Errorf("Validate pdf = %q, %v", kind, err)
	}

	empty := filepath.Join(dir, "empty.jpg")
	os.WriteFile(empty, nil, 0o644)
	if _, err := Validate(empty, nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty file error = %v, want ErrEmpty", err)
	}

	corrupt := filepath.Join(dir, "corrupt.png")
	os.WriteFile(corrupt, []byte("not an image"), 0o644)
	if _, err := Validate(corrupt, nil); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("corrupt file error = %v, want ErrInvalidImage", err)
	}

	txt := filepath.Join(dir, "notes.txt")
	os.WriteFile(txt, []byte("hi"), 0o644)
	if _, err := Validate(txt, nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("txt error = %v, want ErrUnsupported", err)
	}

	if _, err := Validate(filepath.Join(dir, "missing.png"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNewRenderer(t *testing.T) {
	r, err := NewRenderer("", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Name() != FitzName {
		t.Errorf("default renderer = %q", r.Name())
	}
	if r.(*Fitz).DPI != DefaultDPI {
		t.Errorf("default dpi = %d", r.(*Fitz).DPI)
	}

	r, err = NewRenderer(PdftoppmName, 200, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Name() != PdftoppmName || r.(*Pdftoppm).DPI != 200 {
		t.Errorf("unexpected renderer %+v", r)
	}

	if _, err := NewRenderer("ghostscript", 0, nil); err == nil {
		t.Error("expected error for unknown renderer")
	}
}

type fakeRunner struct {
	calls [][]string
	fail  int
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.fail == len(f.calls) {
		return []byte("boom"), errors.New("exit status 1")
	}
	prefix := args[len(args)-1]
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	out, err := os.Create(prefix + ".png")
	if err != nil {
		return nil, err
	}
	defer out.Close()
	return nil, png.Encode(out, img)
}

func TestPdftoppmRender(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	r := &Pdftoppm{
		DPI:       144,
		Runner:    runner,
		PageCount: func(string) (int, error) { return 3, nil },
	}

	out := filepath.Join(dir, DirName)
	paths, err := r.Render(context.Background(), "doc.pdf", out)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("got %d pages, want 3", len(paths))
	}
	for i, p := range paths {
		want := filepath.Join(out, fmt.Sprintf("page_%d.png", i+1))
		if p != want {
			t.Errorf("path[%d] = %s, want %s", i, p, want)
		}
	}

	first := strings.Join(runner.calls[0], " ")
	if !strings.Contains(first, "-f 1 -l 1 -r 144 -singlefile doc.pdf") {
		t.Errorf("unexpected args: %s", first)
	}
}

func TestPdftoppmFailure(t *testing.T) {
	r := &Pdftoppm{
		DPI:       144,
		Runner:    &fakeRunner{fail: 2},
		PageCount: func(string) (int, error) { return 3, nil },
	}
	_, err := r.Render(context.Background(), "doc.pdf", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "page 2") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v", err)
	}
}

func TestPdftoppmCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{}
	r := &Pdftoppm{DPI: 144, Runner: runner, PageCount: func(string) (int, error) { return 2, nil }}
	if _, err := r.Render(ctx, "doc.pdf", t.TempDir()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("runner called %d times after cancel", len(runner.calls))
	}
}

func TestCountPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "three.pdf")
	writePDF(t, path, 3)
	n, err := CountPages(path)
	if err != nil {
		t.Fatalf("CountPages: %v", err)
	}
	if n != 3 {
		t.Errorf("pages = %d, want 3", n)
	}
}

func TestFitzRender(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mupdf render in short mode")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "two.pdf")
	writePDF(t, path, 2)

	r := &Fitz{DPI: 72}
	paths, err := r.Render(context.Background(), path, filepath.Join(dir, DirName))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("got %d pages, want 2", len(paths))
	}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			t.Fatal(err)
		}
		cfg, err := png.DecodeConfig(f)
		f.Close()
		if err != nil {
			t.Fatalf("decode %s: %v", p, err)
		}
		if cfg.Width == 0 || cfg.Height == 0 {
			t.Errorf("%s has zero size", p)
		}
	}
}
