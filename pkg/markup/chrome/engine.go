// Package chrome renders markup surfaces in a headless Chrome through the
// DevTools protocol. Each surface is its own browser tab.
package chrome

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"cssbattle/pkg/logger"
	"cssbattle/pkg/markup"
)

// Options selects how the browser is reached.
type Options struct {
	// RemoteURL is a DevTools websocket URL of an already running browser.
	// When empty a local headless Chrome is started.
	RemoteURL string
	// ExecPath overrides the Chrome binary used for local starts.
	ExecPath string
}

// Engine implements markup.Engine on top of one browser process.
type Engine struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	log           zerolog.Logger
}

// New starts (or attaches to) a browser and returns an engine for it.
func New(ctx context.Context, opts Options) (*Engine, error) {
	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(markup.Width, markup.Height),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("force-device-scale-factor", "1"),
			chromedp.Flag("font-render-hinting", "none"),
			chromedp.DisableGPU,
		)
		if opts.ExecPath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, allocOpts...)
	}

	log := logger.Component("chrome")
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		log.Debug().Msgf(format, args...)
	}))

	// An empty Run starts the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	return &Engine{
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		log:           log,
	}, nil
}

// Open creates a tab sized to the surface and loads page into it.
func (e *Engine) Open(ctx context.Context, html string, size image.Point) (markup.Surface, error) {
	tabCtx, cancelTab := chromedp.NewContext(e.browserCtx)
	s := &surface{ctx: tabCtx, cancel: cancelTab, size: size}

	// The first Run on a context allocates the tab and binds its lifetime to
	// that context, so it must not be a per-call derived one.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		return nil, fmt.Errorf("opening tab: %w", err)
	}

	err := s.run(ctx,
		emulation.SetDeviceMetricsOverride(int64(size.X), int64(size.Y), 1, false),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("loading document: %w", err)
	}
	return s, nil
}

// Close shuts the browser down.
func (e *Engine) Close() error {
	e.cancelBrowser()
	e.cancelAlloc()
	return nil
}

type surface struct {
	ctx    context.Context
	cancel context.CancelFunc
	size   image.Point

	once sync.Once
}

// run executes actions in the tab, aborting when either ctx or the tab ends.
func (s *surface) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *surface) Capture(ctx context.Context) (image.Image, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithClip(&page.Viewport{
				Width:  float64(s.size.X),
				Height: float64(s.size.Y),
				Scale:  1,
			}).
			WithFromSurface(true).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, errors.New("empty screenshot")
	}
	return png.Decode(bytes.NewReader(buf))
}

func (s *surface) Close() error {
	var err error
	s.once.Do(func() {
		err = chromedp.Cancel(s.ctx)
		s.cancel()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return err
}
