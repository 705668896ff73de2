package round

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultSeconds is the length of a battle round.
const DefaultSeconds = 300

// criticalSeconds is where the clock turns red.
const criticalSeconds = 60

// TimerState is the lifecycle of a countdown.
type TimerState int

const (
	TimerRunning TimerState = iota
	TimerExpired
)

func (s TimerState) String() string {
	if s == TimerExpired {
		return "expired"
	}
	return "running"
}

// MarshalText renders the state name in JSON payloads.
func (s TimerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses "running" or "expired".
func (s *TimerState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "running":
		*s = TimerRunning
	case "expired":
		*s = TimerExpired
	default:
		return fmt.Errorf("round: unknown timer state %q", text)
	}
	return nil
}

// TimerOption configures a Timer.
type TimerOption func(*Timer)

// WithInterval sets the wall-clock time between ticks. Tests shorten it.
func WithInterval(d time.Duration) TimerOption {
	return func(t *Timer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// Timer counts a round down one second per tick and calls onExpire exactly
// once when it reaches zero. A stopped timer ignores ticks until Reset.
type Timer struct {
	onExpire func()
	interval time.Duration

	mu        sync.Mutex
	remaining int
	state     TimerState
	stopped   bool
	// run identifies the current Start; ticks from older goroutines are dropped.
	run       uint64
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewTimer creates a running timer with the given number of seconds.
// Non-positive values fall back to DefaultSeconds.
func NewTimer(seconds int, onExpire func(), opts ...TimerOption) *Timer {
	t := &Timer{onExpire: onExpire, interval: time.Second}
	for _, opt := range opts {
		opt(t)
	}
	t.remaining = normalizeSeconds(seconds)
	return t
}

func normalizeSeconds(seconds int) int {
	if seconds <= 0 {
		return DefaultSeconds
	}
	return seconds
}

// Tick advances the countdown by one second. It returns true when this tick
// expired the timer.
func (t *Timer) Tick() bool {
	return t.tick(0, false)
}

func (t *Timer) tick(run uint64, owned bool) bool {
	t.mu.Lock()
	if t.stopped || t.state == TimerExpired || (owned && run != t.run) {
		t.mu.Unlock()
		return false
	}
	t.remaining--
	if t.remaining > 0 {
		t.mu.Unlock()
		return false
	}
	t.remaining = 0
	t.state = TimerExpired
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire()
	}
	return true
}

// Start ticks the timer in the background until it expires, is stopped or
// ctx is done. Starting a started timer does nothing.
func (t *Timer) Start(ctx context.Context) {
	t.mu.Lock()
	if t.cancel != nil || t.stopped || t.state == TimerExpired {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.run++
	run := t.run
	interval := t.interval
	t.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if t.tick(run, true) {
					return
				}
				if !t.owns(run) {
					return
				}
			}
		}
	}()
}

// Stop halts the countdown. It does not wait for the background goroutine,
// so it is safe to call from onExpire; no tick is applied after Stop returns.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.run++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Done is closed when the background goroutine of the last Start exits.
// It is nil if the timer was never started.
func (t *Timer) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Reset stops the timer and rearms it with seconds. Call Start to run it again;
// a goroutine from an earlier Start never ticks the rearmed timer.
func (t *Timer) Reset(seconds int) {
	t.Stop()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remaining = normalizeSeconds(seconds)
	t.state = TimerRunning
	t.stopped = false
}

// Remaining returns the seconds left.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// State returns Running or Expired.
func (t *Timer) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Critical reports whether a minute or less is left.
func (t *Timer) Critical() bool {
	return Critical(t.Remaining())
}

// Critical reports whether remaining seconds are in the last minute.
func Critical(remaining int) bool {
	return remaining <= criticalSeconds
}

func (t *Timer) owns(run uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && run == t.run
}

// FormatClock renders seconds as m:ss.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
