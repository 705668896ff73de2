// Command cbref renders the reference solutions of a challenge catalog into
// target images, or checks existing targets against them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"cssbattle/pkg/challenge"
	"cssbattle/pkg/compare"
	"cssbattle/pkg/config"
	"cssbattle/pkg/logger"
	"cssbattle/pkg/markup/chrome"
)

func main() {
	catalogPath := flag.String("catalog", "", "challenge catalog (default CATALOG_PATH)")
	outDir := flag.String("out", "", "directory for target PNGs (default: catalog directory)")
	check := flag.Bool("check", false, "compare references with existing targets instead of writing them")
	only := flag.String("only", "", "process a single challenge id")
	flag.Usage = func() {
		fmt.Println("Reference Target Generator")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  cbref [-catalog challenges.toml] [-out dir] [-only id]")
		fmt.Println("  cbref -check")
		fmt.Println()
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)

	if *catalogPath == "" {
		*catalogPath = cfg.CatalogPath
	}
	catalog, err := challenge.LoadCatalog(*catalogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *outDir == "" {
		*outDir = catalog.Dir()
	}

	ctx := context.Background()
	engine, err := chrome.New(ctx, chrome.Options{RemoteURL: cfg.ChromeURL, ExecPath: cfg.ChromePath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting browser: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	opts := compare.DefaultOptions()
	opts.Threshold = cfg.Threshold
	opts.IncludeAA = cfg.IncludeAA

	gen := &generator{
		engine:  engine,
		outDir:  *outDir,
		compare: opts,
		timeout: cfg.CaptureTimeout,
	}
	items := catalog.Challenges
	if *only != "" {
		ch, ok := catalog.Get(*only)
		if !ok {
			fmt.Fprintf(os.Stderr, "Unknown challenge: %s\n", *only)
			os.Exit(1)
		}
		items = []challenge.Challenge{ch}
	}

	if *check {
		failed, err := gen.checkAll(ctx, items, os.Stdout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if failed > 0 {
			fmt.Printf("✗ %d target(s) differ from their reference\n", failed)
			os.Exit(1)
		}
		fmt.Println("✓ All targets match their references")
		return
	}

	n, err := gen.generateAll(ctx, items, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ %d target image(s) written to %s\n", n, filepath.Clean(*outDir))
}
