// Package artifact keeps encoded diff images behind opaque handles until they
// are released.
package artifact

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/google/uuid"
)

// Handle identifies a stored artifact. The zero Handle refers to nothing.
type Handle string

// Store holds PNG-encoded artifacts in memory.
type Store struct {
	mu    sync.RWMutex
	items map[Handle][]byte
	bytes int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{items: make(map[Handle][]byte)}
}

// Put encodes img as PNG and returns a new handle for it.
func (s *Store) Put(img image.Image) (Handle, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encoding artifact: %w", err)
	}
	h := Handle(uuid.NewString())

	s.mu.Lock()
	s.items[h] = buf.Bytes()
	s.bytes += buf.Len()
	s.mu.Unlock()
	return h, nil
}

// Get returns the PNG bytes for h.
func (s *Store) Get(h Handle) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.items[h]
	return data, ok
}

// Release drops h. Releasing an unknown or zero handle does nothing.
func (s *Store) Release(h Handle) {
	if h == "" {
		return
	}
	s.mu.Lock()
	if data, ok := s.items[h]; ok {
		s.bytes -= len(data)
		delete(s.items, h)
	}
	s.mu.Unlock()
}

// Len returns the number of live artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Bytes returns the total encoded size of live artifacts.
func (s *Store) Bytes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}
