package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"cssbattle/pkg/challenge"
	"cssbattle/pkg/compare"
	"cssbattle/pkg/markup"
	"cssbattle/pkg/raster"
)

// generator renders reference solutions through one engine.
type generator struct {
	engine  markup.Engine
	outDir  string
	compare compare.Options
	timeout time.Duration
}

func (g *generator) targetPath(id string) string {
	return filepath.Join(g.outDir, id+".png")
}

// render produces the 400x300 image of a challenge's reference solution.
func (g *generator) render(ctx context.Context, ch challenge.Challenge) (*image.RGBA, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	renderer := markup.NewRenderer(g.engine)
	defer renderer.Close()
	surface, err := renderer.Render(ctx, ch.Reference.Document())
	if err != nil {
		return nil, err
	}
	return raster.Snapshot(ctx, surface)
}

// generateAll writes a target PNG for every challenge that has a reference.
func (g *generator) generateAll(ctx context.Context, items []challenge.Challenge, out io.Writer) (int, error) {
	if err := os.MkdirAll(g.outDir, 0755); err != nil {
		return 0, err
	}
	n := 0
	for _, ch := range items {
		if ch.Reference == nil {
			fmt.Fprintf(out, "  skip %s: no reference solution\n", ch.ID)
			continue
		}
		img, err := g.render(ctx, ch)
		if err != nil {
			return n, fmt.Errorf("failed to render %s: %w", ch.ID, err)
		}
		path := g.targetPath(ch.ID)
		if err := compare.SavePNG(img, path); err != nil {
			return n, fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(out, "Generating: %s\n", path)
		n++
	}
	return n, nil
}

// checkAll renders every reference and compares it with the target on disk.
// A diff PNG is left next to each target that does not match.
func (g *generator) checkAll(ctx context.Context, items []challenge.Challenge, out io.Writer) (int, error) {
	tmp, err := os.MkdirTemp("", "cbref-*")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(tmp)

	failed := 0
	for _, ch := range items {
		if ch.Reference == nil {
			continue
		}
		img, err := g.render(ctx, ch)
		if err != nil {
			return failed, fmt.Errorf("failed to render %s: %w", ch.ID, err)
		}
		actualPath := filepath.Join(tmp, ch.ID+".png")
		if err := compare.SavePNG(img, actualPath); err != nil {
			return failed, err
		}
		diffPath := filepath.Join(g.outDir, ch.ID+".diff.png")
		result, err := compare.CompareFiles(actualPath, g.targetPath(ch.ID), diffPath, g.compare)
		if err != nil {
			fmt.Fprintf(out, "  ✗ %s: %v\n", ch.ID, err)
			failed++
			continue
		}
		if !result.Match() {
			fmt.Fprintf(out, "  ✗ %s: %.2f%% (%d pixels differ, see %s)\n", ch.ID, result.SimilarityPercent, result.DifferentPixels, diffPath)
			failed++
			continue
		}
		os.Remove(diffPath)
		fmt.Fprintf(out, "  ✓ %s\n", ch.ID)
	}
	return failed, nil
}
