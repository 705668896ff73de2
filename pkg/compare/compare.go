// Package compare scores a rendered image against a target pixel by pixel
// using a perceptual colour distance, and draws a diff visualisation.
package compare

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
)

// DefaultThreshold is the default matching threshold (0..1). Smaller values
// make the comparison more sensitive.
const DefaultThreshold = 0.1

// maxYIQDelta is the largest possible squared YIQ distance between two colours.
const maxYIQDelta = 35215.0

// ErrDimensionMismatch is returned when the two images do not share bounds.
var ErrDimensionMismatch = errors.New("compare: image dimensions differ")

// Result contains the outcome of one comparison.
type Result struct {
	DifferentPixels   int
	TotalPixels       int
	SimilarityPercent float64
	Diff              *image.RGBA // nil when the comparison did not draw one
}

// Match reports whether every pixel is within tolerance.
func (r *Result) Match() bool {
	return r.DifferentPixels == 0
}

// Options configures the comparison.
type Options struct {
	// Threshold: matching threshold 0..1, as a fraction of the largest
	// possible colour distance. Default 0.1.
	Threshold float64

	// IncludeAA: count anti-aliased pixels as different instead of ignoring them.
	IncludeAA bool

	// Alpha: opacity of the unchanged pixels drawn in the diff (0..1).
	Alpha float64

	AAColor   color.RGBA
	DiffColor color.RGBA

	// DiffMask: draw only the differences over a transparent background.
	DiffMask bool

	// SkipDiff: do not allocate or draw a diff image.
	SkipDiff bool
}

// DefaultOptions returns the options used for live scoring.
func DefaultOptions() Options {
	return Options{
		Threshold: DefaultThreshold,
		Alpha:     0.1,
		AAColor:   color.RGBA{255, 255, 0, 255},
		DiffColor: color.RGBA{255, 0, 0, 255},
	}
}

// Similarity converts a different-pixel count into a percentage in [0, 100].
func Similarity(different, total int) float64 {
	if total <= 0 {
		return 0
	}
	if different <= 0 {
		return 100
	}
	if different >= total {
		return 0
	}
	return float64(total-different) / float64(total) * 100
}

// Compare compares actual against expected. Both images must have identical bounds.
func Compare(actual, expected *image.RGBA, opts Options) (*Result, error) {
	if actual == nil || expected == nil {
		return nil, errors.New("compare: nil image")
	}
	ab, eb := actual.Bounds(), expected.Bounds()
	if ab.Size() != eb.Size() {
		return nil, fmt.Errorf("%w: actual=%v, expected=%v", ErrDimensionMismatch, ab, eb)
	}
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("compare: threshold %v out of range [0,1]", opts.Threshold)
	}

	w, h := ab.Dx(), ab.Dy()
	img1 := pixels(actual)
	img2 := pixels(expected)

	result := &Result{TotalPixels: w * h}

	var out []uint8
	if !opts.SkipDiff {
		result.Diff = image.NewRGBA(image.Rect(0, 0, w, h))
		out = result.Diff.Pix
	}

	maxDelta := maxYIQDelta * opts.Threshold * opts.Threshold

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pos := (y*w + x) * 4
			delta := colorDelta(img1, img2, pos, pos, false)

			if abs(delta) > maxDelta {
				if !opts.IncludeAA && (antialiased(img1, x, y, w, h, img2) || antialiased(img2, x, y, w, h, img1)) {
					// Anti-aliased edge: shown, not counted.
					if out != nil && !opts.DiffMask {
						setPixel(out, pos, opts.AAColor)
					}
					continue
				}
				if out != nil {
					setPixel(out, pos, opts.DiffColor)
				}
				result.DifferentPixels++
			} else if out != nil && !opts.DiffMask {
				drawGrayPixel(img1, pos, opts.Alpha, out)
			}
		}
	}

	result.SimilarityPercent = Similarity(result.DifferentPixels, result.TotalPixels)
	return result, nil
}

// CompareFiles decodes two PNG files and compares them. When diffPath is not
// empty and the images differ, the diff image is written there.
func CompareFiles(actualPath, expectedPath, diffPath string, opts Options) (*Result, error) {
	actualImg, err := loadPNG(actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load actual image: %w", err)
	}
	expectedImg, err := loadPNG(expectedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load expected image: %w", err)
	}

	result, err := Compare(ToRGBA(actualImg), ToRGBA(expectedImg), opts)
	if err != nil {
		return nil, err
	}
	if diffPath != "" && !result.Match() && result.Diff != nil {
		if err := SavePNG(result.Diff, diffPath); err != nil {
			return result, fmt.Errorf("failed to save diff image: %w", err)
		}
	}
	return result, nil
}

// ToRGBA returns img as an *image.RGBA with its origin at (0, 0), converting when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// SavePNG writes img to path.
func SavePNG(img image.Image, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func loadPNG(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return png.Decode(file)
}

// pixels returns the tightly packed pixel slice of img.
func pixels(img *image.RGBA) []uint8 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if img.Stride == w*4 && len(img.Pix) >= w*h*4 {
		return img.Pix[:w*h*4]
	}
	packed := make([]uint8, w*h*4)
	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y):]
		copy(packed[y*w*4:(y+1)*w*4], row[:w*4])
	}
	return packed
}

func setPixel(out []uint8, pos int, c color.RGBA) {
	out[pos+0] = c.R
	out[pos+1] = c.G
	out[pos+2] = c.B
	out[pos+3] = 255
}

func drawGrayPixel(img []uint8, pos int, alpha float64, out []uint8) {
	r, g, b := float64(img[pos+0]), float64(img[pos+1]), float64(img[pos+2])
	val := blend(rgb2y(r, g, b), alpha*float64(img[pos+3])/255)
	v := uint8(clamp255(val))
	out[pos+0] = v
	out[pos+1] = v
	out[pos+2] = v
	out[pos+3] = 255
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp255(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
