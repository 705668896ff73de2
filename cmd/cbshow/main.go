// Command cbshow scores one solution against a target and writes the diff
// and a side-by-side report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"cssbattle/pkg/compare"
	"cssbattle/pkg/config"
	"cssbattle/pkg/logger"
	"cssbattle/pkg/markup"
	"cssbattle/pkg/markup/chrome"
	"cssbattle/pkg/raster"
	"cssbattle/pkg/resource"
	"cssbattle/pkg/round"
)

func main() {
	htmlPath := flag.String("html", "", "markup file (required)")
	cssPath := flag.String("css", "", "stylesheet file")
	target := flag.String("target", "", "target image URI (required)")
	diffOut := flag.String("o", "diff.png", "diff PNG output path")
	reportOut := flag.String("report", "", "side-by-side report PNG output path")
	fit := flag.String("fit", "", "target fit mode: contain or clip (default from TARGET_FIT)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cbshow -html index.html [-css style.css] -target <uri> [flags]\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *htmlPath == "" || *target == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)

	mode := cfg.TargetFit
	if *fit != "" {
		if mode, err = raster.ParseFitMode(*fit); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	doc, err := readDocument(*htmlPath, *cssPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CaptureTimeout*4)
	defer cancel()

	fmt.Fprintf(os.Stderr, "Loading target %s...\n", *target)
	targets := raster.NewTargetLoader(resource.NewFetcher(cfg.APIBaseURL), mode)
	targetImg, err := targets.Load(ctx, *target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading target: %v\n", err)
		os.Exit(1)
	}

	engine, err := chrome.New(ctx, chrome.Options{RemoteURL: cfg.ChromeURL, ExecPath: cfg.ChromePath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting browser: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	opts := compare.DefaultOptions()
	opts.Threshold = cfg.Threshold
	opts.IncludeAA = cfg.IncludeAA

	renderer := markup.NewRenderer(engine)
	defer renderer.Close()
	fmt.Fprintf(os.Stderr, "Rendering %dx%d...\n", markup.Width, markup.Height)
	result, actual, err := round.Evaluate(ctx, renderer, doc, targetImg, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error scoring: %v\n", err)
		os.Exit(1)
	}

	if err := compare.SavePNG(result.Diff, *diffOut); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving diff: %v\n", err)
		os.Exit(1)
	}
	if *reportOut != "" {
		title := filepath.Base(*htmlPath) + " vs " + filepath.Base(*target)
		if err := composeReport(title, actual, targetImg, result).SavePNG(*reportOut); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving report: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Report saved to %s\n", *reportOut)
	}

	fmt.Printf("%.2f%% match (%d of %d pixels differ, %s)\n",
		result.SimilarityPercent, result.DifferentPixels, result.TotalPixels, compare.BandOf(result.SimilarityPercent))
	fmt.Fprintf(os.Stderr, "Diff saved to %s\n", *diffOut)
}

func readDocument(htmlPath, cssPath string) (markup.Document, error) {
	html, err := os.ReadFile(htmlPath)
	if err != nil {
		return markup.Document{}, fmt.Errorf("reading %s: %w", htmlPath, err)
	}
	doc := markup.Document{Markup: string(html)}
	if cssPath != "" {
		css, err := os.ReadFile(cssPath)
		if err != nil {
			return markup.Document{}, fmt.Errorf("reading %s: %w", cssPath, err)
		}
		doc.Style = string(css)
	}
	return doc, nil
}
