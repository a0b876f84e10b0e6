package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/docstream/internal/engine"
	"github.com/jackzampolin/docstream/internal/jobs"
	"github.com/jackzampolin/docstream/internal/pages"
	"github.com/jackzampolin/docstream/internal/pipeline"
	"github.com/jackzampolin/docstream/internal/recovery"
)

func TestResolveMode(t *testing.T) {
	tests := []struct {
		name      string
		wantValue string
		wantOK    bool
		wantBase  int
		wantImage int
		wantCrop  bool
	}{
		{"tiny", "tiny", true, 512, 512, false},
		{"small", "small", true, 640, 640, false},
		{"base", "base", true, 1024, 1024, false},
		{"LARGE", "large", true, 1280, 1280, false},
		{"gundam", "gundam", true, 1024, 640, true},
		{"huge", "base", false, 1024, 1024, false},
		{"", "base", false, 1024, 1024, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := ResolveMode(tt.name)
			if ok != tt.wantOK || m.Value != tt.wantValue {
				t.Fatalf("ResolveMode(%q) = %s, %v", tt.name, m.Value, ok)
			}
			p := m.Params()
			if p.BaseSize != tt.wantBase || p.ImageSize != tt.wantImage || p.CropMode != tt.wantCrop {
				t.Errorf("params = %+v", p)
			}
		})
	}
}

func TestResolvePrompt(t *testing.T) {
	tests := []struct {
		format, custom string
		want           string
		wantErr        error
	}{
		{"markdown", "", "<image>\n<|grounding|>Convert the document to markdown.", nil},
		{"ocr", "", "<image>\n<|grounding|>OCR this image.", nil},
		{"free_ocr", "", "<image>\nFree OCR.", nil},
		{"figure", "", "<image>\nParse the figure.", nil},
		{"general", "", "<image>\nDescribe this image in detail.", nil},
		{"markdown", "  <image>\nRead the table.  ", "<image>\nRead the table.", nil},
		{"rec", " the red button ", "<image>\nLocate <|ref|>the red button<|/ref|> in the image.", nil},
		{"rec", "   ", "", ErrTargetRequired},
		{"poetry", "", "", ErrUnknownFormat},
	}
	for _, tt := range tests {
		t.Run(tt.format+"/"+tt.custom, func(t *testing.T) {
			got, err := ResolvePrompt(tt.format, tt.custom)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("prompt = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCatalog(t *testing.T) {
	c := Catalog()
	if len(c.Modes) != 5 || len(c.OutputFormats) != 6 {
		t.Fatalf("catalog has %d modes, %d formats", len(c.Modes), len(c.OutputFormats))
	}
	if c.DefaultMode != "base" || c.DefaultFormat != "markdown" {
		t.Errorf("defaults = %s/%s", c.DefaultMode, c.DefaultFormat)
	}
	for _, f := range c.OutputFormats {
		if f.RequiresInput != (f.Value == FormatRec) {
			t.Errorf("format %s requires_input = %v", f.Value, f.RequiresInput)
		}
	}

	// callers get copies
	c.Modes[0].BaseSize = 1
	if Modes()[0].BaseSize != 512 {
		t.Error("Modes returned shared slice")
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

// fakeRenderer writes n blank pages regardless of the input.
type fakeRenderer struct {
	n     int
	calls int
}

func (f *fakeRenderer) Name() string { return "fake" }

func (f *fakeRenderer) Render(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	f.calls++
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	var paths []string
	for i := 1; i <= f.n; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("page_%d.png", i))
		img := image.NewGray(image.Rect(0, 0, 8, 8))
		out, err := os.Create(p)
		if err != nil {
			return nil, err
		}
		png.Encode(out, img)
		out.Close()
		paths = append(paths, p)
	}
	return paths, nil
}

func newTestService(t *testing.T, eng engine.Engine, r pages.Renderer) *Service {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	exec := jobs.NewExecutor(jobs.ExecutorConfig{})
	go exec.Start(ctx)

	p := pipeline.New(pipeline.Config{
		Engine:   eng,
		Executor: exec,
		Recoverer: recovery.New(recovery.Options{
			FileTimeout: 20 * time.Millisecond,
			ScanTimeout: 10 * time.Millisecond,
			Interval:    5 * time.Millisecond,
			SettleDelay: -1,
			Exclude:     []string{pipeline.StreamFile},
		}),
		MaterializeTimeout:  20 * time.Millisecond,
		MaterializeInterval: 5 * time.Millisecond,
		PageYield:           -1,
	})
	svc, err := NewService(ServiceConfig{Pipeline: p, Renderer: r})
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestServiceValidate(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "scan.png")
	writePNG(t, img)
	svc := newTestService(t, engine.NewMock("x"), &fakeRenderer{})

	plan, err := svc.Validate(Request{SourcePath: img, Mode: "gundam"})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Kind != pages.KindImage || plan.Mode.Value != "gundam" || plan.OutputFormat != DefaultFormat {
		t.Errorf("plan = %+v", plan)
	}

	if _, err := svc.Validate(Request{SourcePath: img, OutputFormat: "rec"}); !errors.Is(err, ErrTargetRequired) {
		t.Errorf("rec without target: %v", err)
	}

	txt := filepath.Join(dir, "notes.txt")
	os.WriteFile(txt, []byte("hello"), 0o644)
	if _, err := svc.Validate(Request{SourcePath: txt}); !errors.Is(err, pages.ErrUnsupported) {
		t.Errorf("txt upload: %v", err)
	}
}

func TestServiceProcessImage(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "scan.png")
	writePNG(t, img)

	mock := engine.NewMock("# Title")
	svc := newTestService(t, mock, &fakeRenderer{})

	var events []pipeline.ProgressEvent
	resp, err := svc.Process(context.Background(), Request{
		JobID:        "job-1",
		SourcePath:   img,
		OutputDir:    filepath.Join(dir, "out"),
		Mode:         "small",
		OutputFormat: "ocr",
		Flag:         &engine.Flag{},
	}, func(ev pipeline.ProgressEvent) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Text != "# Title" || resp.Mode != "small" || resp.OutputFormat != "ocr" {
		t.Errorf("response = %+v", resp)
	}
	if len(events) != 1 || events[0].Kind != pipeline.KindImage {
		t.Errorf("events = %+v", events)
	}

	req := mock.Requests()[0]
	if req.BaseSize != 640 || req.ImageSize != 640 || req.CropMode {
		t.Errorf("engine params = %+v", req)
	}
	if !strings.Contains(req.Prompt, "OCR this image.") {
		t.Errorf("prompt = %q", req.Prompt)
	}
}

func TestServiceProcessPDF(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "doc.pdf")
	os.WriteFile(pdf, []byte("%PDF-1.4 stub"), 0o644)

	renderer := &fakeRenderer{n: 3}
	mock := engine.NewMock("page text")
	svc := newTestService(t, mock, renderer)

	out := filepath.Join(dir, "out")
	var pagesSeen []int
	resp, err := svc.Process(context.Background(), Request{
		JobID:      "job-2",
		SourcePath: pdf,
		OutputDir:  out,
		Flag:       &engine.Flag{},
	}, func(ev pipeline.ProgressEvent) { pagesSeen = append(pagesSeen, ev.Page) })
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if renderer.calls != 1 {
		t.Errorf("renderer calls = %d", renderer.calls)
	}
	if fmt.Sprint(pagesSeen) != "[1 2 3]" {
		t.Errorf("pages = %v", pagesSeen)
	}
	if !strings.HasPrefix(resp.Text, "--- Page 1 ---\npage text") {
		t.Errorf("text = %q", resp.Text)
	}
	if mock.Requests()[2].ImagePath != filepath.Join(out, pages.DirName, "page_3.png") {
		t.Errorf("third page path = %s", mock.Requests()[2].ImagePath)
	}
}

func TestServiceProcessCancelledBeforeRender(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "doc.pdf")
	os.WriteFile(pdf, []byte("%PDF-1.4 stub"), 0o644)

	renderer := &fakeRenderer{n: 2}
	svc := newTestService(t, engine.NewMock("x"), renderer)

	flag := &engine.Flag{}
	flag.Set()
	_, err := svc.Process(context.Background(), Request{SourcePath: pdf, OutputDir: dir, Flag: flag}, nil)
	if !errors.Is(err, pipeline.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if renderer.calls != 0 {
		t.Error("renderer ran after cancel")
	}
}
