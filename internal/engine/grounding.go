package engine

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Artifact names written into a request's output dir.
const (
	ResultMarkdownFile = "result.mmd"
	BoxesImageFile     = "result_with_boxes.jpg"
	ImagesDirName      = "images"
)

// gridScale is the coordinate range of grounding boxes emitted by the model.
const gridScale = 999

var refPattern = regexp.MustCompile(`(?s)<\|ref\|>(.*?)<\|/ref\|><\|det\|>(.*?)<\|/det\|>`)

var boxPattern = regexp.MustCompile(`\[\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*\]`)

// Ref is one grounded reference in model output.
type Ref struct {
	Label string
	Boxes []image.Rectangle // in grid coordinates
	raw   string
}

// ParseRefs extracts grounded references from model output.
func ParseRefs(text string) []Ref {
	matches := refPattern.FindAllStringSubmatch(text, -1)
	refs := make([]Ref, 0, len(matches))
	for _, m := range matches {
		ref := Ref{Label: strings.TrimSpace(m[1]), raw: m[0]}
		for _, b := range boxPattern.FindAllStringSubmatch(m[2], -1) {
			var v [4]int
			for i := 0; i < 4; i++ {
				f, err := strconv.ParseFloat(b[i+1], 64)
				if err != nil {
					continue
				}
				v[i] = int(f)
			}
			ref.Boxes = append(ref.Boxes, image.Rect(v[0], v[1], v[2], v[3]))
		}
		refs = append(refs, ref)
	}
	return refs
}

// scaleBox maps a grid box onto an image of the given bounds.
func scaleBox(box image.Rectangle, bounds image.Rectangle) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	r := image.Rect(
		box.Min.X*w/gridScale,
		box.Min.Y*h/gridScale,
		box.Max.X*w/gridScale,
		box.Max.Y*h/gridScale,
	).Add(bounds.Min)
	return r.Intersect(bounds)
}

// Materialize writes the grounding artifacts for one inference into outDir:
// result_with_boxes.jpg (the source image with labelled boxes), one crop per
// "image" reference under images/, and result.mmd with the cleaned text.
// It returns the cleaned text, where image references become markdown image
// links and all other references are removed.
func Materialize(imagePath, outDir, text string) (string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("open source image: %w", err)
	}
	src, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("decode source image: %w", err)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	xdraw.Copy(canvas, bounds.Min, src, bounds, xdraw.Src, nil)

	cleaned := text
	cropIdx := 0
	for i, ref := range ParseRefs(text) {
		col := boxColor(i)
		replacement := ""
		for _, box := range ref.Boxes {
			r := scaleBox(box, bounds)
			if r.Empty() {
				continue
			}
			if ref.Label == "image" {
				name := fmt.Sprintf("%d.jpg", cropIdx)
				if err := writeCrop(src, r, filepath.Join(outDir, ImagesDirName, name)); err != nil {
					return "", err
				}
				replacement += fmt.Sprintf("![](%s/%s)\n", ImagesDirName, name)
				cropIdx++
			}
			strokeRect(canvas, r, col, 2)
			drawLabel(canvas, r.Min, ref.Label, col)
		}
		cleaned = strings.Replace(cleaned, ref.raw, replacement, 1)
	}

	if err := writeJPEG(canvas, filepath.Join(outDir, BoxesImageFile)); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(outDir, ResultMarkdownFile), []byte(cleaned), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", ResultMarkdownFile, err)
	}
	return cleaned, nil
}

func writeCrop(src image.Image, r image.Rectangle, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create crop dir: %w", err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Copy(dst, image.Point{}, src, r, xdraw.Src, nil)
	return writeJPEG(dst, path)
}

func writeJPEG(img image.Image, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: 90}); err != nil {
		out.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return out.Close()
}

func strokeRect(dst *image.RGBA, r image.Rectangle, col color.Color, width int) {
	u := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		xdraw.Draw(dst, e.Intersect(dst.Bounds()), u, image.Point{}, xdraw.Over)
	}
}

func drawLabel(dst *image.RGBA, at image.Point, label string, col color.Color) {
	if label == "" {
		return
	}
	face := basicfont.Face7x13
	y := at.Y - 2
	if y-face.Ascent < dst.Bounds().Min.Y {
		y = at.Y + face.Ascent + 2
	}
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.P(at.X+2, y),
	}
	d.DrawString(label)
}

var palette = []color.RGBA{
	{R: 230, G: 25, B: 75, A: 255},
	{R: 60, G: 180, B: 75, A: 255},
	{R: 0, G: 130, B: 200, A: 255},
	{R: 245, G: 130, B: 48, A: 255},
	{R: 145, G: 30, B: 180, A: 255},
	{R: 70, G: 240, B: 240, A: 255},
}

func boxColor(i int) color.RGBA {
	return palette[i%len(palette)]
}

// WriteBoxes draws pixel-space boxes over the source image and writes
// result_with_boxes.jpg into outDir. Engines without grounding tokens use it
// to produce the same artifact from their own layout data.
func WriteBoxes(imagePath, outDir string, boxes []image.Rectangle, label string) error {
	f, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("open source image: %w", err)
	}
	src, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("decode source image: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	xdraw.Copy(canvas, bounds.Min, src, bounds, xdraw.Src, nil)
	for i, b := range boxes {
		r := b.Add(bounds.Min).Intersect(bounds)
		if r.Empty() {
			continue
		}
		strokeRect(canvas, r, boxColor(i), 2)
		drawLabel(canvas, r.Min, label, boxColor(i))
	}
	return writeJPEG(canvas, filepath.Join(outDir, BoxesImageFile))
}
