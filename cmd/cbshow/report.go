package main

import (
	"fmt"
	"image"

	"github.com/fogleman/gg"

	"cssbattle/pkg/compare"
	"cssbattle/pkg/markup"
)

const (
	reportPad    = 16
	reportHeader = 48
	reportLabel  = 20
)

// composeReport lays out the solution, the target and the diff side by side
// under a header carrying the score.
func composeReport(title string, actual, target *image.RGBA, result *compare.Result) *gg.Context {
	w := 3*markup.Width + 4*reportPad
	h := reportHeader + reportLabel + markup.Height + reportPad
	dc := gg.NewContext(w, h)
	dc.SetRGB(0.13, 0.14, 0.16)
	dc.Clear()

	band := compare.BandOf(result.SimilarityPercent)
	r, g, b := bandRGB(band)
	dc.SetRGB(r, g, b)
	dc.DrawStringAnchored(fmt.Sprintf("%.2f%% match", result.SimilarityPercent), reportPad, reportHeader/2, 0, 0.5)
	dc.SetRGB(0.8, 0.8, 0.8)
	dc.DrawStringAnchored(title, float64(w-reportPad), reportHeader/2, 1, 0.5)

	panels := []struct {
		label string
		img   image.Image
	}{
		{"solution", actual},
		{"target", target},
		{fmt.Sprintf("diff (%d px)", result.DifferentPixels), result.Diff},
	}
	top := reportHeader + reportLabel
	for i, p := range panels {
		x := reportPad + i*(markup.Width+reportPad)
		dc.SetRGB(0.8, 0.8, 0.8)
		dc.DrawString(p.label, float64(x), float64(top-6))
		dc.SetRGB(1, 1, 1)
		dc.DrawRectangle(float64(x), float64(top), markup.Width, markup.Height)
		dc.Fill()
		if p.img != nil {
			dc.DrawImage(p.img, x, top)
		}
	}
	return dc
}

func bandRGB(b compare.Band) (float64, float64, float64) {
	switch b {
	case compare.BandHigh:
		return 0.3, 0.8, 0.4
	case compare.BandMid:
		return 0.95, 0.75, 0.2
	default:
		return 0.9, 0.3, 0.3
	}
}
