// Package round scores a player's solution over the course of one timed round
// and forwards exactly one submission when the round ends.
package round

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

var (
	// ErrSubmitted is returned when a frozen round is edited.
	ErrSubmitted = errors.New("round: already submitted")
	// ErrNotStarted is returned when a session is used before Start.
	ErrNotStarted = errors.New("round: not started")
)

// State is the lifecycle of a round's score.
type State int

const (
	StateIdle State = iota
	StateActive
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateIdle, StateActive, StateSubmitted} {
		if string(text) == st.String() {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("round: unknown state %q", text)
}

// Trigger identifies what closed the round.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerExpiry Trigger = "expiry"
	TriggerServer Trigger = "server"
)

// Forced reports whether the trigger closes the round without player action.
// Forced triggers submit even a zero score to record participation.
func (t Trigger) Forced() bool {
	return t == TriggerExpiry || t == TriggerServer
}

// Submission is the one result a round produces.
type Submission struct {
	RoundID     string        `json:"roundId"`
	ChallengeID string        `json:"challengeId"`
	Score       float64       `json:"score"`
	Trigger     Trigger       `json:"trigger"`
	Elapsed     time.Duration `json:"elapsed"`
	At          time.Time     `json:"at"`
}

// Submitter receives the final submission of a round.
type Submitter interface {
	Submit(ctx context.Context, sub Submission) error
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, sub Submission) error

func (f SubmitterFunc) Submit(ctx context.Context, sub Submission) error {
	return f(ctx, sub)
}

// Score is a point-in-time view of a tracker.
type Score struct {
	Current float64 `json:"currentPercent"`
	Best    float64 `json:"bestPercent"`
	State   State   `json:"state"`
}

// Tracker keeps the current and best percentages of one round and performs
// the single Active -> Submitted transition.
type Tracker struct {
	roundID     string
	challengeID string
	submitter   Submitter
	now         func() time.Time
	started     time.Time

	mu         sync.Mutex
	current    float64
	best       float64
	state      State
	submission *Submission
}

// NewTracker creates an idle tracker. submitter may be nil.
func NewTracker(roundID, challengeID string, submitter Submitter) *Tracker {
	t := &Tracker{
		roundID:     roundID,
		challengeID: challengeID,
		submitter:   submitter,
		now:         time.Now,
	}
	t.started = t.now()
	return t
}

// Observe records the latest similarity percent. Values are clamped to
// [0,100]; NaN is ignored. Observe returns false once the round is submitted.
func (t *Tracker) Observe(percent float64) bool {
	if math.IsNaN(percent) {
		return false
	}
	percent = math.Max(0, math.Min(100, percent))

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateSubmitted {
		return false
	}
	t.state = StateActive
	t.current = percent
	if percent > t.best {
		t.best = percent
	}
	return true
}

// Score returns the current view of the tracker.
func (t *Tracker) Score() Score {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Score{Current: t.current, Best: t.best, State: t.state}
}

// Submitted returns the accepted submission, if any.
func (t *Tracker) Submitted() (Submission, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.submission == nil {
		return Submission{}, false
	}
	return *t.submission, true
}

// Submit closes the round with the best percent seen so far.
// It returns ok=false without error when the round is already submitted, or
// when a manual submit finds nothing to submit. Only the call that performs
// the transition forwards the submission. A forwarding error is returned but
// the round stays submitted.
func (t *Tracker) Submit(ctx context.Context, trigger Trigger) (Submission, bool, error) {
	t.mu.Lock()
	if t.state == StateSubmitted || (!trigger.Forced() && t.best <= 0) {
		t.mu.Unlock()
		return Submission{}, false, nil
	}
	at := t.now()
	sub := Submission{
		RoundID:     t.roundID,
		ChallengeID: t.challengeID,
		Score:       t.best,
		Trigger:     trigger,
		Elapsed:     at.Sub(t.started),
		At:          at,
	}
	t.state = StateSubmitted
	t.submission = &sub
	t.mu.Unlock()

	if t.submitter == nil {
		return sub, true, nil
	}
	if err := t.submitter.Submit(ctx, sub); err != nil {
		return sub, true, fmt.Errorf("forwarding submission of round %s: %w", sub.RoundID, err)
	}
	return sub, true, nil
}

// Fanout forwards a submission to every submitter in order and joins their errors.
func Fanout(submitters ...Submitter) Submitter {
	return SubmitterFunc(func(ctx context.Context, sub Submission) error {
		var errs []error
		for _, s := range submitters {
			if s == nil {
				continue
			}
			if err := s.Submit(ctx, sub); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
