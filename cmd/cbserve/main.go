// Command cbserve runs the local scoring daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"cssbattle/pkg/api"
	"cssbattle/pkg/artifact"
	"cssbattle/pkg/challenge"
	"cssbattle/pkg/compare"
	"cssbattle/pkg/config"
	"cssbattle/pkg/logger"
	"cssbattle/pkg/markup/chrome"
	"cssbattle/pkg/raster"
	"cssbattle/pkg/resource"
	"cssbattle/pkg/round"
	"cssbattle/pkg/store"
)

func main() {
	addr := flag.String("addr", "", "listen address (default LISTEN_ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init(cfg.LogLevel)
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Failed to open database")
	}
	defer db.Close()

	catalog := loadCatalog(ctx, cfg.CatalogPath, db)

	engine, err := chrome.New(ctx, chrome.Options{RemoteURL: cfg.ChromeURL, ExecPath: cfg.ChromePath})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start browser")
	}
	defer engine.Close()

	opts := compare.DefaultOptions()
	opts.Threshold = cfg.Threshold
	opts.IncludeAA = cfg.IncludeAA

	server := api.NewServer(api.Options{
		Engine:    engine,
		Targets:   raster.NewTargetLoader(resource.NewFetcher(cfg.APIBaseURL), cfg.TargetFit),
		Artifacts: artifact.NewStore(),
		Catalog:   catalog,
		Store:     db,
		Session: round.Options{
			Seconds:        cfg.RoundSeconds,
			Debounce:       cfg.Debounce,
			CaptureTimeout: cfg.CaptureTimeout,
			Compare:        opts,
			Submitter:      store.NewJournal(db),
		},
	})
	defer server.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Scoring daemon listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Scoring daemon stopped")
}

// loadCatalog reads the catalog when present and caches its challenges in
// the database so rounds can be started by id after the file is gone.
func loadCatalog(ctx context.Context, path string, db *store.Store) *challenge.Catalog {
	catalog, err := challenge.LoadCatalog(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("No challenge catalog; serving stored challenges only")
		return nil
	}
	for _, ch := range catalog.Challenges {
		if err := db.SaveChallenge(ctx, ch); err != nil {
			log.Warn().Err(err).Str("challenge", ch.ID).Msg("Failed to cache challenge")
		}
	}
	log.Info().Int("challenges", len(catalog.Challenges)).Str("path", path).Msg("Catalog loaded")
	return catalog
}
