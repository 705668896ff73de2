// Package raster turns live surfaces and target images into equally sized
// RGBA buffers for the comparator.
package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"cssbattle/pkg/markup"
)

var (
	// ErrCapture means no snapshot of the live surface could be taken.
	// It is never reported as a 0% score.
	ErrCapture = errors.New("raster: capture failed")
	// ErrDecode means the target image could not be fetched or decoded.
	ErrDecode = errors.New("raster: decode failed")
)

// Snapshot captures the surface into a 400x300 buffer at 1:1 scale.
// Captures smaller than the canvas are padded with white, larger ones clipped.
func Snapshot(ctx context.Context, s markup.Surface) (*image.RGBA, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: no surface", ErrCapture)
	}
	img, err := s.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty capture", ErrCapture)
	}
	return Canvas(img, markup.Size()), nil
}

// Canvas draws src at its natural size onto a white canvas of the given size,
// anchored at the top-left corner.
func Canvas(src image.Image, size image.Point) *image.RGBA {
	dst := blank(size)
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)
	return dst
}

func blank(size image.Point) *image.RGBA {
	img := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}
