//go:build tesseract

package tesseract

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/docstream/internal/engine"
)

func blankPNG(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.White)
		}
	}
	path := filepath.Join(t.TempDir(), "blank.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEngine_BlankImage(t *testing.T) {
	e := New([]string{"eng"}, nil)
	if !e.Ready(context.Background()) {
		t.Skip("tesseract not available")
	}

	res, err := e.Infer(context.Background(), &engine.Request{ImagePath: blankPNG(t)})
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if res != nil {
		t.Errorf("blank image should produce nil, got %#v", res)
	}
}

func TestEngine_Cancelled(t *testing.T) {
	flag := &engine.Flag{}
	flag.Set()

	_, err := New(nil, nil).Infer(context.Background(), &engine.Request{Cancel: flag})
	if !errors.Is(err, engine.ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestRegistered(t *testing.T) {
	found := false
	for _, name := range engine.Types() {
		if name == Name {
			found = true
		}
	}
	if !found {
		t.Error("tesseract engine should register itself")
	}
}
