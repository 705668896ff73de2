// Command cssbattle runs timed rounds in the terminal. The solution is edited
// in any editor; every save is scored against the challenge target.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

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
	htmlPath := flag.String("html", "index.html", "markup file to watch")
	cssPath := flag.String("css", "style.css", "stylesheet file to watch (optional)")
	challengeID := flag.String("challenge", "", "challenge id from the catalog")
	target := flag.String("target", "", "target image URI (overrides -challenge)")
	practice := flag.Bool("practice", false, "walk the catalog, moving on above 80%")
	history := flag.Int("history", 0, "print the last N submissions and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cssbattle [flags]\n\nWhile a round runs, type s<Enter> to submit, r<Enter> to reset, q<Enter> to quit.\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if *history > 0 {
		if err := printHistory(ctx, os.Stdout, db, *history); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	queue, err := selectChallenges(cfg, *challengeID, *target, *practice)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, db, queue, sourceFiles{HTML: *htmlPath, CSS: *cssPath}); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// selectChallenges builds the sequence of challenges to play.
func selectChallenges(cfg *config.Config, id, target string, practice bool) (*challenge.Sequence, error) {
	if target != "" {
		return challenge.NewSequence([]challenge.Challenge{{ID: "custom", Target: target, Difficulty: challenge.Easy}}), nil
	}
	catalog, err := challenge.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	if practice {
		if len(catalog.Challenges) == 0 {
			return nil, fmt.Errorf("catalog %s is empty", cfg.CatalogPath)
		}
		return challenge.NewSequence(catalog.Challenges), nil
	}
	if id == "" {
		return nil, errors.New("one of -challenge, -target or -practice is required")
	}
	ch, ok := catalog.Get(id)
	if !ok {
		return nil, fmt.Errorf("challenge %q not in %s (have %s)", id, cfg.CatalogPath, strings.Join(catalog.IDs(), ", "))
	}
	return challenge.NewSequence([]challenge.Challenge{ch}), nil
}

func run(ctx context.Context, cfg *config.Config, db *store.Store, queue *challenge.Sequence, files sourceFiles) error {
	log := logger.Component("cssbattle")

	engine, err := chrome.New(ctx, chrome.Options{RemoteURL: cfg.ChromeURL, ExecPath: cfg.ChromePath})
	if err != nil {
		return err
	}
	defer engine.Close()

	submitters := []round.Submitter{store.NewJournal(db)}
	var client *socket.Client
	if cfg.SocketURL != "" {
		client, err = socket.New(socket.Options{URL: cfg.SocketURL, Token: cfg.SocketToken, EventID: cfg.EventID})
		if err != nil {
			return err
		}
		if err := client.Connect(ctx); err != nil {
			return err
		}
		defer client.Close()
		submitters = append(submitters, client)
	}

	ended := make(chan round.Update, 1)
	display := newDisplay(os.Stdout)
	opts := round.Options{
		Seconds:        cfg.RoundSeconds,
		Debounce:       cfg.Debounce,
		CaptureTimeout: cfg.CaptureTimeout,
		Compare:        compareOptions(cfg),
		Submitter:      round.Fanout(submitters...),
		Listener: func(u round.Update) {
			display.show(u)
			if u.State == round.StateSubmitted {
				select {
				case ended <- u:
				default:
				}
			}
		},
	}
	artifacts := artifact.NewStore()
	targets := raster.NewTargetLoader(resource.NewFetcher(cfg.APIBaseURL), cfg.TargetFit)
	sess := round.NewSession(markup.NewRenderer(engine), targets, artifacts, opts)
	defer sess.Close()

	if client != nil {
		client.OnSubmitTime(func() {
			if _, _, err := sess.ForceSubmit(ctx, round.TriggerServer); err != nil {
				log.Error().Err(err).Msg("server submission failed")
			}
		})
	}

	go func() {
		if err := watch(ctx, files, log, func(doc markup.Document) {
			if err := sess.SetSource(doc); err != nil && !errors.Is(err, round.ErrSubmitted) {
				log.Warn().Err(err).Msg("source not applied")
			}
		}); err != nil {
			log.Error().Err(err).Msg("file watcher stopped")
		}
	}()
	commands := readCommands(ctx, os.Stdin)

	for {
		ch, _ := queue.Current()
		if _, err := sess.Start(ctx, ch); err != nil {
			return fmt.Errorf("starting %s: %w", ch.ID, err)
		}
		fmt.Printf("\nChallenge %s (%d/%d, %s) target %s\n", ch.ID, queue.Position()+1, queue.Len(), ch.Difficulty, ch.Target)
		if len(ch.Palette) > 0 {
			fmt.Printf("Palette: %s\n", strings.Join(ch.Palette, " "))
		}
		// Score whatever is already on disk.
		if doc, err := files.load(); err == nil {
			sess.SetSource(doc)
		}

		final, err := playRound(ctx, sess, display, commands, ended)
		if err != nil {
			return err
		}
		fmt.Printf("\nSubmitted %.2f%% for %s\n", final.Best, ch.ID)
		if !queue.Advance(final.Best) {
			if queue.Position() < queue.Len()-1 {
				fmt.Printf("Need more than %.0f%% to move on.\n", challenge.PassPercent)
			}
			return nil
		}
	}
}

// playRound refreshes the clock once a second and handles commands until the
// round is submitted.
func playRound(ctx context.Context, sess *round.Session, display *display, commands <-chan string, ended <-chan round.Update) (round.Update, error) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return round.Update{}, ctx.Err()
		case u := <-ended:
			return u, nil
		case <-tick.C:
			display.show(sess.Snapshot())
		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			switch cmd {
			case "s", "submit":
				if _, ok, _ := sess.Submit(ctx); !ok {
					fmt.Println("\nNothing to submit yet: best score is 0%.")
				}
			case "r", "reset":
				if err := sess.ResetSource(); err != nil {
					fmt.Printf("\nReset failed: %v\n", err)
				}
			case "q", "quit":
				return round.Update{}, context.Canceled
			}
		}
	}
}

func readCommands(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case out <- strings.ToLower(strings.TrimSpace(sc.Text())):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func compareOptions(cfg *config.Config) compare.Options {
	opts := compare.DefaultOptions()
	opts.Threshold = cfg.Threshold
	opts.IncludeAA = cfg.IncludeAA
	return opts
}

func printHistory(ctx context.Context, w io.Writer, db *store.Store, limit int) error {
	subs, err := db.ListSubmissions(ctx, limit)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		fmt.Fprintln(w, "No submissions yet.")
		return nil
	}
	for _, sub := range subs {
		fmt.Fprintf(w, "%-14s %-12s %7.2f%%  %-7s %6s  %s\n",
			humanize.Time(sub.At), sub.ChallengeID, sub.Score, sub.Trigger,
			round.FormatClock(int(sub.Elapsed/time.Second)), sub.RoundID)
	}
	return nil
}
