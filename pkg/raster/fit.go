package raster

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
)

// FitMode controls how a target of arbitrary size is placed on the canvas.
type FitMode int

const (
	// FitContain scales the source to fit, keeps its aspect ratio and centres it.
	FitContain FitMode = iota
	// FitClip draws the source unscaled from the top-left corner.
	FitClip
)

func (m FitMode) String() string {
	switch m {
	case FitContain:
		return "contain"
	case FitClip:
		return "clip"
	default:
		return fmt.Sprintf("FitMode(%d)", int(m))
	}
}

// ParseFitMode accepts "contain" or "clip".
func ParseFitMode(s string) (FitMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "contain":
		return FitContain, nil
	case "clip":
		return FitClip, nil
	default:
		return FitContain, fmt.Errorf("unknown fit mode %q", s)
	}
}

// Fit places src on a white canvas of the given size. Sources that already
// have the canvas size are copied pixel for pixel.
func Fit(src image.Image, size image.Point, mode FitMode) *image.RGBA {
	b := src.Bounds()
	if b.Empty() {
		return blank(size)
	}
	if b.Size() == size || mode == FitClip {
		return Canvas(src, size)
	}

	w, h := containedSize(b.Size(), size)
	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, b, draw.Src, nil)

	dc := gg.NewContext(size.X, size.Y)
	dc.SetColor(color.White)
	dc.Clear()
	dc.DrawImage(scaled, (size.X-w)/2, (size.Y-h)/2)
	return toRGBA(dc.Image())
}

// containedSize scales src to the largest size fitting inside box.
func containedSize(src, box image.Point) (int, int) {
	scale := math.Min(float64(box.X)/float64(src.X), float64(box.Y)/float64(src.Y))
	w := int(math.Round(float64(src.X) * scale))
	h := int(math.Round(float64(src.Y) * scale))
	return max(1, min(w, box.X)), max(1, min(h, box.Y))
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
