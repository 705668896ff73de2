package raster

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Decode turns raw target image bytes into a canvas of the given size.
// SVG documents are rasterised directly at the fitted size; everything else
// goes through the registered image decoders and Fit.
func Decode(data []byte, size image.Point, mode FitMode) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	if IsSVG(data) {
		return decodeSVG(data, size, mode)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Fit(img, size, mode), nil
}

// IsSVG sniffs the start of data for an <svg element.
func IsSVG(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	head = bytes.TrimPrefix(bytes.TrimSpace(head), []byte("\xef\xbb\xbf"))
	if !bytes.HasPrefix(head, []byte("<")) {
		return false
	}
	return bytes.Contains(bytes.ToLower(head), []byte("<svg"))
}

func decodeSVG(data []byte, size image.Point, mode FitMode) (*image.RGBA, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.WarnErrorMode)
	if err != nil {
		return nil, fmt.Errorf("%w: svg: %v", ErrDecode, err)
	}

	natural := image.Pt(int(icon.ViewBox.W), int(icon.ViewBox.H))
	if natural.X <= 0 || natural.Y <= 0 {
		natural = size
	}

	var x, y, w, h float64
	switch {
	case mode == FitClip || natural == size:
		w, h = float64(natural.X), float64(natural.Y)
	default:
		cw, ch := containedSize(natural, size)
		w, h = float64(cw), float64(ch)
		x, y = float64((size.X-cw)/2), float64((size.Y-ch)/2)
	}
	icon.SetTarget(x, y, w, h)

	img := blank(size)
	scanner := rasterx.NewScannerGV(size.X, size.Y, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size.X, size.Y, scanner), 1)
	return img, nil
}
