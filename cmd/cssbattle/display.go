package main

import (
	"fmt"
	"io"
	"sync"

	"cssbattle/pkg/compare"
	"cssbattle/pkg/round"
)

// ANSI colours for the score bands and the critical clock.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
)

// display keeps a single status line up to date.
type display struct {
	mu  sync.Mutex
	out io.Writer
}

func newDisplay(out io.Writer) *display {
	return &display{out: out}
}

func (d *display) show(u round.Update) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprint(d.out, "\r\033[K"+statusLine(u))
}

func bandColor(b compare.Band) string {
	switch b {
	case compare.BandHigh:
		return ansiGreen
	case compare.BandMid:
		return ansiYellow
	default:
		return ansiRed
	}
}

// statusLine renders the clock, the current and best percent, and the last error.
func statusLine(u round.Update) string {
	clock := round.FormatClock(u.Remaining)
	if round.Critical(u.Remaining) && u.State != round.StateSubmitted {
		clock = ansiRed + clock + ansiReset
	}
	line := fmt.Sprintf("[%s] match %s%.2f%%%s  best %s%.2f%%%s  %s",
		clock,
		bandColor(compare.BandOf(u.Current)), u.Current, ansiReset,
		bandColor(compare.BandOf(u.Best)), u.Best, ansiReset,
		u.State)
	if u.Err != nil {
		line += "  (" + u.Err.Error() + ")"
	}
	return line
}
