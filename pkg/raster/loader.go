package raster

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cssbattle/pkg/markup"
	"cssbattle/pkg/resource"
)

// fetchTimeout bounds a shared target fetch.
const fetchTimeout = 30 * time.Second

// TargetLoader fetches and decodes target images once per URI.
// Concurrent loads of the same URI share one fetch. Failed loads are not cached.
//
// Cached images are shared between callers and must not be modified.
type TargetLoader struct {
	fetcher resource.Fetcher
	size    image.Point
	mode    FitMode

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*image.RGBA
}

// NewTargetLoader creates a loader producing canvases of the surface size.
func NewTargetLoader(fetcher resource.Fetcher, mode FitMode) *TargetLoader {
	return &TargetLoader{
		fetcher: fetcher,
		size:    markup.Size(),
		mode:    mode,
		cache:   make(map[string]*image.RGBA),
	}
}

// Load returns the decoded target for uri. Every error wraps ErrDecode.
func (l *TargetLoader) Load(ctx context.Context, uri string) (*image.RGBA, error) {
	l.mu.RLock()
	if img, ok := l.cache[uri]; ok {
		l.mu.RUnlock()
		return img, nil
	}
	l.mu.RUnlock()

	// The shared fetch outlives any single caller's context.
	ch := l.group.DoChan(uri, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		data, _, err := l.fetcher.Fetch(fetchCtx, uri)
		if err != nil {
			return nil, fmt.Errorf("%w: fetching %s: %v", ErrDecode, uri, err)
		}
		img, err := Decode(data, l.size, l.mode)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", uri, err)
		}

		l.mu.Lock()
		l.cache[uri] = img
		l.mu.Unlock()
		return img, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: loading %s: %v", ErrDecode, uri, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*image.RGBA), nil
	}
}

// Forget evicts uri from the cache.
func (l *TargetLoader) Forget(uri string) {
	l.mu.Lock()
	delete(l.cache, uri)
	l.mu.Unlock()
}

// Len returns the number of cached targets.
func (l *TargetLoader) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cache)
}
