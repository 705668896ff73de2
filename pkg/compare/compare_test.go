package compare

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

var (
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
	coral = color.RGBA{0xdd, 0x6b, 0x4d, 255}
)

func TestCompare_Identical(t *testing.T) {
	a := solid(400, 300, coral)
	b := solid(400, 300, coral)

	result, err := Compare(a, b, DefaultOptions())
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if result.SimilarityPercent != 100 {
		t.Errorf("expected 100%%, got %v", result.SimilarityPercent)
	}
	if !result.Match() {
		t.Errorf("expected match, %d different pixels", result.DifferentPixels)
	}
	if result.TotalPixels != 400*300 {
		t.Errorf("total pixels = %d", result.TotalPixels)
	}

	// With a mask the diff of identical images is all zero.
	opts := DefaultOptions()
	opts.DiffMask = true
	result, err = Compare(a, b, opts)
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	for i, v := range result.Diff.Pix {
		if v != 0 {
			t.Fatalf("diff byte %d = %d, want 0", i, v)
		}
	}
}

func TestCompare_Disjoint(t *testing.T) {
	result, err := Compare(solid(400, 300, black), solid(400, 300, white), DefaultOptions())
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if result.SimilarityPercent != 0 {
		t.Errorf("expected 0%%, got %v", result.SimilarityPercent)
	}
	if result.DifferentPixels != 400*300 {
		t.Errorf("expected every pixel to differ, got %d", result.DifferentPixels)
	}
	if got := result.Diff.RGBAAt(10, 10); got != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("diff pixel = %v, want red", got)
	}
}

func TestCompare_HalfDifferent(t *testing.T) {
	a := solid(40, 30, white)
	b := solid(40, 30, white)
	for y := 0; y < 30; y++ {
		for x := 0; x < 20; x++ {
			b.SetRGBA(x, y, black)
		}
	}
	result, err := Compare(a, b, DefaultOptions())
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if result.DifferentPixels != 600 {
		t.Errorf("expected 600 different pixels, got %d", result.DifferentPixels)
	}
	if result.SimilarityPercent != 50 {
		t.Errorf("expected 50%%, got %v", result.SimilarityPercent)
	}
}

func TestCompare_WithinThreshold(t *testing.T) {
	a := solid(10, 10, color.RGBA{100, 100, 100, 255})
	b := solid(10, 10, color.RGBA{104, 104, 104, 255})

	result, err := Compare(a, b, DefaultOptions())
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if !result.Match() {
		t.Errorf("expected a 4-level shift to be within the default threshold")
	}

	opts := DefaultOptions()
	opts.Threshold = 0
	result, err = Compare(a, b, opts)
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if result.Match() {
		t.Errorf("expected threshold 0 to flag the shift")
	}
}

func TestCompare_TransparentBlendsOverWhite(t *testing.T) {
	a := solid(10, 10, color.RGBA{0, 0, 0, 0})
	b := solid(10, 10, white)
	result, err := Compare(a, b, DefaultOptions())
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if !result.Match() {
		t.Errorf("transparent pixels should match white, %d differ", result.DifferentPixels)
	}
}

func TestCompare_AntiAliasedEdge(t *testing.T) {
	// Left half black, right half white; the second image softens the edge
	// column to gray.
	a := solid(10, 10, white)
	b := solid(10, 10, white)
	for y := 0; y < 10; y++ {
		for x := 0; x < 5; x++ {
			a.SetRGBA(x, y, black)
			b.SetRGBA(x, y, black)
		}
		b.SetRGBA(5, y, color.RGBA{128, 128, 128, 255})
	}

	result, err := Compare(a, b, DefaultOptions())
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if result.DifferentPixels != 0 {
		t.Errorf("anti-aliased edge should be ignored, got %d different", result.DifferentPixels)
	}
	if got := result.Diff.RGBAAt(5, 4); got != (color.RGBA{255, 255, 0, 255}) {
		t.Errorf("edge pixel drawn as %v, want yellow", got)
	}

	opts := DefaultOptions()
	opts.IncludeAA = true
	result, err = Compare(a, b, opts)
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if result.DifferentPixels != 10 {
		t.Errorf("expected the edge column to count with IncludeAA, got %d", result.DifferentPixels)
	}
}

func TestCompare_Deterministic(t *testing.T) {
	a := solid(64, 48, white)
	b := solid(64, 48, white)
	for i := 0; i < 64; i++ {
		a.SetRGBA(i, i%48, coral)
		b.SetRGBA((i*7)%64, (i*3)%48, black)
	}

	first, err := Compare(a, b, DefaultOptions())
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Compare(a, b, DefaultOptions())
		if err != nil {
			t.Fatalf("comparison failed: %v", err)
		}
		if again.SimilarityPercent != first.SimilarityPercent || again.DifferentPixels != first.DifferentPixels {
			t.Fatalf("run %d: %v/%d, first %v/%d", i, again.SimilarityPercent, again.DifferentPixels,
				first.SimilarityPercent, first.DifferentPixels)
		}
	}
}

func TestCompare_DifferentDimensions(t *testing.T) {
	_, err := Compare(solid(10, 10, white), solid(20, 20, white), DefaultOptions())
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestCompare_SkipDiff(t *testing.T) {
	opts := DefaultOptions()
	opts.SkipDiff = true
	result, err := Compare(solid(10, 10, white), solid(10, 10, black), opts)
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if result.Diff != nil {
		t.Error("expected no diff image")
	}
	if result.DifferentPixels != 100 {
		t.Errorf("different pixels = %d", result.DifferentPixels)
	}
}

func TestCompare_SubImage(t *testing.T) {
	big := solid(20, 20, white)
	sub := big.SubImage(image.Rect(5, 5, 15, 15)).(*image.RGBA)
	result, err := Compare(sub, solid(10, 10, white), DefaultOptions())
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if !result.Match() {
		t.Errorf("sub-image should match, %d differ", result.DifferentPixels)
	}
}

func TestCompare_Latency(t *testing.T) {
	if testing.Short() {
		t.Skip("latency check")
	}
	a := solid(400, 300, white)
	b := solid(400, 300, black)
	start := time.Now()
	if _, err := Compare(a, b, DefaultOptions()); err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if d := time.Since(start); d > 200*time.Millisecond {
		t.Errorf("400x300 comparison took %v", d)
	}
}

func TestSimilarity_Bounds(t *testing.T) {
	tests := []struct {
		diff, total int
		want        float64
	}{
		{0, 100, 100},
		{100, 100, 0},
		{150, 100, 0},
		{-3, 100, 100},
		{25, 100, 75},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := Similarity(tt.diff, tt.total); got != tt.want {
			t.Errorf("Similarity(%d, %d) = %v, want %v", tt.diff, tt.total, got, tt.want)
		}
	}
}

func TestBandOf(t *testing.T) {
	tests := []struct {
		in   float64
		want Band
	}{
		{100, BandHigh},
		{80.01, BandHigh},
		{80, BandMid},
		{60.5, BandMid},
		{60, BandLow},
		{0, BandLow},
	}
	for _, tt := range tests {
		if got := BandOf(tt.in); got != tt.want {
			t.Errorf("BandOf(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCompareFiles(t *testing.T) {
	tmpDir := t.TempDir()
	path1 := filepath.Join(tmpDir, "img1.png")
	path2 := filepath.Join(tmpDir, "img2.png")
	diffPath := filepath.Join(tmpDir, "diff.png")

	if err := SavePNG(solid(10, 10, color.RGBA{255, 0, 0, 255}), path1); err != nil {
		t.Fatal(err)
	}
	if err := SavePNG(solid(10, 10, color.RGBA{0, 0, 255, 255}), path2); err != nil {
		t.Fatal(err)
	}

	result, err := CompareFiles(path1, path2, diffPath, DefaultOptions())
	if err != nil {
		t.Fatalf("comparison failed: %v", err)
	}
	if result.DifferentPixels != 100 {
		t.Errorf("expected 100 different pixels, got %d", result.DifferentPixels)
	}
	if _, err := os.Stat(diffPath); os.IsNotExist(err) {
		t.Errorf("diff image was not created")
	}

	if _, err := CompareFiles(filepath.Join(tmpDir, "missing.png"), path2, "", DefaultOptions()); err == nil {
		t.Error("expected error for missing file")
	}
}
