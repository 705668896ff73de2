// Command cbdesk is the desktop battle view: edit HTML and CSS, watch the
// score and the diff update live, and submit before the clock runs out.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/dialog"
	"github.com/rs/zerolog/log"

	"cssbattle/pkg/artifact"
	"cssbattle/pkg/challenge"
	"cssbattle/pkg/compare"
	"cssbattle/pkg/config"
	"cssbattle/pkg/logger"
	"cssbattle/pkg/markup"
	"cssbattle/pkg/markup/chrome"
	"cssbattle/pkg/raster"
	"cssbattle/pkg/resource"
	"cssbattle/pkg/round"
	"cssbattle/pkg/socket"
	"cssbattle/pkg/store"
)

func main() {
	challengeID := flag.String("challenge", "", "challenge id from the catalog")
	target := flag.String("target", "", "target image URI (overrides -challenge)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logDir, err := os.UserCacheDir()
	if err != nil {
		logDir = os.TempDir()
	}
	if err := logger.InitWithFile(cfg.LogLevel, filepath.Join(logDir, "cssbattle", "cbdesk.log")); err != nil {
		logger.Init(cfg.LogLevel)
	}
	defer logger.Close()

	ch, err := pickChallenge(cfg, *challengeID, *target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	engine, err := chrome.New(ctx, chrome.Options{RemoteURL: cfg.ChromeURL, ExecPath: cfg.ChromePath})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start browser")
	}
	defer engine.Close()

	submitters := []round.Submitter{store.NewJournal(db)}
	var client *socket.Client
	if cfg.SocketURL != "" {
		client, err = socket.New(socket.Options{URL: cfg.SocketURL, Token: cfg.SocketToken, EventID: cfg.EventID})
		if err == nil {
			err = client.Connect(ctx)
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to battle server")
		}
		defer client.Close()
		submitters = append(submitters, client)
	}

	a := app.New()
	w := a.NewWindow("cssbattle: " + ch.ID)
	w.Resize(fyne.NewSize(1280, 760))

	artifacts := artifact.NewStore()
	targets := raster.NewTargetLoader(resource.NewFetcher(cfg.APIBaseURL), cfg.TargetFit)
	ui := newBattleView(w, artifacts)

	opts := compare.DefaultOptions()
	opts.Threshold = cfg.Threshold
	opts.IncludeAA = cfg.IncludeAA
	sess := round.NewSession(markup.NewRenderer(engine), targets, artifacts, round.Options{
		Seconds:        cfg.RoundSeconds,
		Debounce:       cfg.Debounce,
		CaptureTimeout: cfg.CaptureTimeout,
		Compare:        opts,
		Submitter:      round.Fanout(submitters...),
		Listener:       func(u round.Update) { fyne.Do(func() { ui.show(u) }) },
	})
	defer sess.Close()

	if client != nil {
		client.OnSubmitTime(func() {
			if _, _, err := sess.ForceSubmit(ctx, round.TriggerServer); err != nil {
				log.Error().Err(err).Msg("Server submission failed")
			}
		})
	}

	targetImg, err := targets.Load(ctx, ch.Target)
	if err != nil {
		log.Fatal().Err(err).Str("target", ch.Target).Msg("Failed to load target")
	}
	ui.target.Image = targetImg
	ui.palette.SetText(paletteText(ch))

	ui.onEdit = func(doc markup.Document) {
		if err := sess.SetSource(doc); err != nil {
			log.Debug().Err(err).Msg("Edit ignored")
		}
	}
	ui.onReset = func() {
		sess.ResetSource()
		ui.setSource(sess.Source())
	}
	ui.onSubmit = func() {
		go func() {
			_, ok, err := sess.Submit(ctx)
			fyne.Do(func() {
				switch {
				case !ok && err == nil:
					dialog.ShowInformation("Nothing to submit", "Your best match is still 0%.", w)
				case err != nil:
					dialog.ShowError(err, w)
				}
			})
		}()
	}

	u, err := sess.Start(ctx, ch)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start round")
	}
	ui.setSource(sess.Source())
	ui.show(u)

	go func() {
		tick := time.NewTicker(time.Second)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				snap := sess.Snapshot()
				fyne.Do(func() { ui.showClock(snap) })
			}
		}
	}()

	w.SetContent(ui.layout())
	w.ShowAndRun()
}

func pickChallenge(cfg *config.Config, id, target string) (challenge.Challenge, error) {
	if target != "" {
		return challenge.Challenge{ID: "custom", Target: target, Difficulty: challenge.Easy}, nil
	}
	catalog, err := challenge.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return challenge.Challenge{}, err
	}
	if id == "" {
		if len(catalog.Challenges) == 0 {
			return challenge.Challenge{}, fmt.Errorf("catalog %s is empty", cfg.CatalogPath)
		}
		return catalog.Challenges[0], nil
	}
	ch, ok := catalog.Get(id)
	if !ok {
		return challenge.Challenge{}, fmt.Errorf("challenge %q not found", id)
	}
	return ch, nil
}

func paletteText(ch challenge.Challenge) string {
	if len(ch.Palette) == 0 {
		return string(ch.Difficulty)
	}
	s := string(ch.Difficulty) + "  colours:"
	for _, c := range ch.Palette {
		s += " " + c
	}
	return s
}

func decodeDiff(data []byte) image.Image {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	return img
}
