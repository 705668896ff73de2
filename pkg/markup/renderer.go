package markup

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
)

// ErrRender is returned when a document cannot be turned into a paintable surface.
var ErrRender = errors.New("markup: render failed")

// Engine opens isolated rendering surfaces for standalone HTML pages.
type Engine interface {
	Open(ctx context.Context, page string, size image.Point) (Surface, error)
}

// Surface is a live rendering of one page.
type Surface interface {
	// Capture returns the current visual output of the surface.
	Capture(ctx context.Context) (image.Image, error)
	// Close releases the surface. Calling Close more than once is allowed.
	Close() error
}

// Renderer owns at most one live surface. Every Render tears down the previous
// surface before the next one is created.
type Renderer struct {
	engine Engine
	size   image.Point

	mu   sync.Mutex
	live Surface
}

// NewRenderer creates a Renderer drawing onto surfaces of the fixed size.
func NewRenderer(engine Engine) *Renderer {
	return &Renderer{engine: engine, size: Size()}
}

// Render replaces the live surface with a rendering of doc.
// The returned surface stays owned by the Renderer; callers must not close it.
func (r *Renderer) Render(ctx context.Context, doc Document) (Surface, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.teardown()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	s, err := r.engine.Open(ctx, doc.HTML(), r.size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: engine returned no surface", ErrRender)
	}
	r.live = s
	return s, nil
}

// Close tears down the live surface, if any.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.teardown()
}

// Live returns the number of surfaces currently held (0 or 1).
func (r *Renderer) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live == nil {
		return 0
	}
	return 1
}

// teardown must be called with mu held.
func (r *Renderer) teardown() error {
	if r.live == nil {
		return nil
	}
	s := r.live
	r.live = nil
	return s.Close()
}
