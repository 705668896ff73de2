// Package markuptest provides an in-memory markup.Engine for tests.
package markuptest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"cssbattle/pkg/markup"
)

// ErrClosed is returned by Capture on a surface that was already torn down.
var ErrClosed = errors.New("markuptest: surface closed")

// Engine paints every page with the result of Paint. Capture blocks on the
// channel returned by Gate, which lets tests hold a capture in flight.
type Engine struct {
	Paint      func(page string) image.Image
	Gate       func(page string) <-chan struct{}
	OpenErr    func(page string) error
	CaptureErr func(page string) error

	mu     sync.Mutex
	opened int
	closed int
}

// Open implements markup.Engine.
func (e *Engine) Open(ctx context.Context, page string, size image.Point) (markup.Surface, error) {
	if e.OpenErr != nil {
		if err := e.OpenErr(page); err != nil {
			return nil, err
		}
	}
	e.mu.Lock()
	e.opened++
	e.mu.Unlock()
	return &surface{engine: e, page: page, size: size}, nil
}

// Opened returns how many surfaces have been opened.
func (e *Engine) Opened() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened
}

// Live returns how many opened surfaces have not been closed.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened - e.closed
}

type surface struct {
	engine *Engine
	page   string
	size   image.Point

	mu     sync.Mutex
	closed bool
}

func (s *surface) Capture(ctx context.Context) (image.Image, error) {
	if s.engine.Gate != nil {
		if gate := s.engine.Gate(s.page); gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if s.engine.CaptureErr != nil {
		if err := s.engine.CaptureErr(s.page); err != nil {
			return nil, err
		}
	}
	if s.engine.Paint == nil {
		return Solid(s.size, color.White), nil
	}
	return s.engine.Paint(s.page), nil
}

func (s *surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.engine.mu.Lock()
	s.engine.closed++
	s.engine.mu.Unlock()
	return nil
}

// Solid returns a uniform image of the given size.
func Solid(size image.Point, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// ByKeyword paints the surface with the colour of the first keyword found in
// the page, or fallback when none matches. Keywords are checked in order.
func ByKeyword(fallback color.Color, pairs ...KeywordColor) func(page string) image.Image {
	return func(page string) image.Image {
		for _, p := range pairs {
			if strings.Contains(page, p.Keyword) {
				return Solid(markup.Size(), p.Color)
			}
		}
		return Solid(markup.Size(), fallback)
	}
}

// KeywordColor maps a page substring to a paint colour.
type KeywordColor struct {
	Keyword string
	Color   color.Color
}
