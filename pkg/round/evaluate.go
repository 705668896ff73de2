package round

import (
	"context"
	"image"
	"time"

	"cssbattle/pkg/compare"
	"cssbattle/pkg/markup"
	"cssbattle/pkg/metrics"
	"cssbattle/pkg/raster"
)

// Evaluate renders doc once and compares it with target. It is the one-shot
// form of a session cycle and shares its stage metrics. The surface stays
// live on r until the caller closes it.
func Evaluate(ctx context.Context, r *markup.Renderer, doc markup.Document, target *image.RGBA, opts compare.Options) (*compare.Result, *image.RGBA, error) {
	start := time.Now()
	surface, err := r.Render(ctx, doc)
	metrics.ObserveStage("render", start)
	if err != nil {
		return nil, nil, err
	}

	start = time.Now()
	actual, err := raster.Snapshot(ctx, surface)
	metrics.ObserveStage("capture", start)
	if err != nil {
		return nil, nil, err
	}

	start = time.Now()
	result, err := compare.Compare(actual, target, opts)
	metrics.ObserveStage("compare", start)
	if err != nil {
		return nil, actual, err
	}
	return result, actual, nil
}
