package challenge

import "sync"

// PassPercent is the similarity a practice attempt must exceed to move on.
const PassPercent = 80.0

// Sequence walks a list of challenges in practice mode.
type Sequence struct {
	mu    sync.Mutex
	items []Challenge
	pos   int
}

// NewSequence creates a sequence positioned at the first challenge.
func NewSequence(items []Challenge) *Sequence {
	return &Sequence{items: append([]Challenge(nil), items...)}
}

// Current returns the challenge being practised.
func (s *Sequence) Current() (Challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return Challenge{}, false
	}
	return s.items[s.pos], true
}

// Advance moves to the next challenge when percent exceeds PassPercent and a
// next challenge exists. It reports whether the position changed.
func (s *Sequence) Advance(percent float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if percent <= PassPercent || s.pos >= len(s.items)-1 {
		return false
	}
	s.pos++
	return true
}

// Position returns the zero-based index of the current challenge.
func (s *Sequence) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Len returns the number of challenges.
func (s *Sequence) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
