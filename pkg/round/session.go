package round

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cssbattle/pkg/artifact"
	"cssbattle/pkg/challenge"
	"cssbattle/pkg/compare"
	"cssbattle/pkg/logger"
	"cssbattle/pkg/markup"
	"cssbattle/pkg/metrics"
	"cssbattle/pkg/raster"
)

// Options configures a Session.
type Options struct {
	// Seconds is the round length; zero means DefaultSeconds.
	Seconds int
	// TickInterval is the wall-clock length of one timer second.
	TickInterval time.Duration
	// Debounce delays scoring until edits pause for this long. Zero scores
	// every edit immediately.
	Debounce time.Duration
	// CaptureTimeout bounds one render and capture. Zero means 5s.
	CaptureTimeout time.Duration
	Compare        compare.Options
	Submitter      Submitter
	// Listener receives every published update. Calls are serialised.
	Listener func(Update)
	Logger   *zerolog.Logger
}

// Update is what the display collaborator sees after every cycle.
type Update struct {
	RoundID     string          `json:"roundId"`
	ChallengeID string          `json:"challengeId"`
	Current     float64         `json:"currentPercent"`
	Best        float64         `json:"bestPercent"`
	State       State           `json:"state"`
	Diff        artifact.Handle `json:"diff,omitempty"`
	Remaining   int             `json:"remainingSeconds"`
	Timer       TimerState      `json:"timer"`
	// Preview is the snapshot of the last scored source. It is not modified
	// after publication.
	Preview *image.RGBA `json:"-"`
	Err     error       `json:"-"`
}

// Session runs one round at a time: every source change is rendered,
// snapshotted and compared against the target, and only the result of the
// latest change is kept.
type Session struct {
	renderer  *markup.Renderer
	targets   *raster.TargetLoader
	artifacts *artifact.Store
	opts      Options
	log       zerolog.Logger
	debounced func(func())

	publishMu sync.Mutex
	// pipelineMu serialises render and capture on the single live surface.
	pipelineMu sync.Mutex

	mu          sync.Mutex
	cond        *sync.Cond
	ctx         context.Context
	cancel      context.CancelFunc
	cycleCancel context.CancelFunc
	challenge   challenge.Challenge
	target      *image.RGBA
	doc         markup.Document
	tracker     *Tracker
	timer       *Timer
	roundID     string
	gen         uint64
	completed   uint64
	diff        artifact.Handle
	preview     *image.RGBA
	lastErr     error
	frozen      bool
	closed      bool
}

// NewSession wires a session to its renderer, target loader and artifact store.
func NewSession(renderer *markup.Renderer, targets *raster.TargetLoader, artifacts *artifact.Store, opts Options) *Session {
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = 5 * time.Second
	}
	if opts.Compare == (compare.Options{}) {
		opts.Compare = compare.DefaultOptions()
	}
	s := &Session{
		renderer:  renderer,
		targets:   targets,
		artifacts: artifacts,
		opts:      opts,
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	} else {
		s.log = logger.Component("session")
	}
	if opts.Debounce > 0 {
		s.debounced = debounce.New(opts.Debounce)
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start opens a new round for ch, ending any previous round without
// submitting it. A target that cannot be decoded fails the round.
func (s *Session) Start(ctx context.Context, ch challenge.Challenge) (Update, error) {
	if err := ch.Validate(); err != nil {
		return Update{}, err
	}
	target, err := s.targets.Load(ctx, ch.Target)
	if err != nil {
		s.log.Error().Err(err).Str("challenge", ch.ID).Msg("target unavailable")
		return Update{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Update{}, errors.New("round: session closed")
	}
	s.endRoundLocked()

	roundCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	id := uuid.NewString()
	s.ctx, s.cancel = roundCtx, cancel
	s.roundID = id
	s.challenge = ch
	s.target = target
	s.doc = markup.DefaultDocument()
	s.tracker = NewTracker(id, ch.ID, s.opts.Submitter)
	s.timer = NewTimer(s.opts.Seconds, func() {
		if _, _, err := s.ForceSubmit(roundCtx, TriggerExpiry); err != nil {
			s.log.Error().Err(err).Str("round", id).Msg("forced submission failed")
		}
	}, WithInterval(s.opts.TickInterval))
	s.frozen = false
	s.lastErr = nil
	s.gen++
	gen := s.gen
	timer := s.timer
	update := s.updateLocked()
	s.mu.Unlock()

	metrics.ActiveRounds.Inc()
	s.log.Info().Str("round", id).Str("challenge", ch.ID).Int("seconds", timer.Remaining()).Msg("round started")

	timer.Start(roundCtx)
	go s.cycle(gen)
	return update, nil
}

// SetSource replaces the player's document and schedules a comparison.
func (s *Session) SetSource(doc markup.Document) error {
	s.mu.Lock()
	if s.tracker == nil || s.closed {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.frozen || s.tracker.Score().State == StateSubmitted {
		s.mu.Unlock()
		return ErrSubmitted
	}
	s.doc = doc
	s.gen++
	gen := s.gen
	s.cancelCycleLocked()
	s.mu.Unlock()

	if s.debounced != nil {
		s.debounced(func() { s.cycle(gen) })
		return nil
	}
	go s.cycle(gen)
	return nil
}

// ResetSource restores the starter document. The best score is kept.
func (s *Session) ResetSource() error {
	return s.SetSource(markup.DefaultDocument())
}

// Source returns the player's current document.
func (s *Session) Source() markup.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Challenge returns the challenge of the current round.
func (s *Session) Challenge() challenge.Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.challenge
}

// Submit is the player's submit action.
func (s *Session) Submit(ctx context.Context) (Submission, bool, error) {
	return s.ForceSubmit(ctx, TriggerManual)
}

// ForceSubmit closes the round with the given trigger. At most one call per
// round forwards a submission; the others return ok=false.
func (s *Session) ForceSubmit(ctx context.Context, trigger Trigger) (Submission, bool, error) {
	s.mu.Lock()
	tracker, timer := s.tracker, s.timer
	s.mu.Unlock()
	if tracker == nil {
		return Submission{}, false, ErrNotStarted
	}

	sub, ok, err := tracker.Submit(ctx, trigger)
	if !ok {
		return sub, false, err
	}
	timer.Stop()

	s.mu.Lock()
	if s.tracker == tracker {
		s.frozen = true
		s.gen++
		s.cancelCycleLocked()
	}
	update := s.updateLocked()
	s.cond.Broadcast()
	s.mu.Unlock()

	// The pipeline is not needed once the round is frozen.
	if cerr := s.renderer.Close(); cerr != nil {
		s.log.Warn().Err(cerr).Msg("closing surface")
	}
	metrics.Submissions.WithLabelValues(string(trigger)).Inc()

	ev := s.log.Info()
	if err != nil {
		ev = s.log.Error().Err(err)
	}
	ev.Str("round", sub.RoundID).Str("trigger", string(trigger)).Float64("score", sub.Score).Msg("round submitted")

	s.publish(update)
	return sub, true, err
}

// Snapshot returns the latest state without waiting for in-flight work.
func (s *Session) Snapshot() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked()
}

// Wait blocks until the latest source change has been scored or the round
// can no longer change.
func (s *Session) Wait() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.settledLocked() {
		s.cond.Wait()
	}
	return s.updateLocked()
}

// Close ends the current round without submitting and releases the surface.
// It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.endRoundLocked()
	s.cond.Broadcast()
	s.mu.Unlock()
	return s.renderer.Close()
}

// cancelCycleLocked aborts the render or capture of an older generation.
func (s *Session) cancelCycleLocked() {
	if s.cycleCancel != nil {
		s.cycleCancel()
		s.cycleCancel = nil
	}
}

// endRoundLocked stops the timer and drops per-round resources.
func (s *Session) endRoundLocked() {
	if s.tracker == nil {
		return
	}
	s.timer.Stop()
	s.cancelCycleLocked()
	s.cancel()
	s.artifacts.Release(s.diff)
	s.diff = ""
	s.preview = nil
	s.tracker = nil
	s.gen++
	metrics.ActiveRounds.Dec()
	metrics.LiveArtifacts.Set(float64(s.artifacts.Len()))
}

func (s *Session) settledLocked() bool {
	return s.tracker == nil || s.closed || s.frozen || s.completed >= s.gen
}

func (s *Session) currentLocked(gen uint64) bool {
	return gen == s.gen && !s.frozen && !s.closed && s.tracker != nil
}

func (s *Session) updateLocked() Update {
	u := Update{
		RoundID:     s.roundID,
		ChallengeID: s.challenge.ID,
		Diff:        s.diff,
		Preview:     s.preview,
		Err:         s.lastErr,
	}
	if s.tracker != nil {
		sc := s.tracker.Score()
		u.Current, u.Best, u.State = sc.Current, sc.Best, sc.State
	}
	if s.timer != nil {
		u.Remaining = s.timer.Remaining()
		u.Timer = s.timer.State()
	}
	return u
}

// cycle renders, snapshots and compares the document of generation gen.
// Work for a superseded generation is dropped at every stage.
func (s *Session) cycle(gen uint64) {
	s.pipelineMu.Lock()
	defer s.pipelineMu.Unlock()

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		s.stale(gen)
		return
	}
	doc, target, tracker := s.doc, s.target, s.tracker
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.CaptureTimeout)
	s.cycleCancel = cancel
	s.mu.Unlock()
	defer cancel()

	start := time.Now()
	surface, err := s.renderer.Render(ctx, doc)
	metrics.ObserveStage("render", start)
	if err != nil {
		s.fail(gen, "render", err)
		return
	}
	if !s.isCurrent(gen) {
		s.stale(gen)
		return
	}

	start = time.Now()
	actual, err := raster.Snapshot(ctx, surface)
	metrics.ObserveStage("capture", start)
	if err != nil {
		s.fail(gen, "capture", err)
		return
	}

	start = time.Now()
	result, err := compare.Compare(actual, target, s.opts.Compare)
	metrics.ObserveStage("compare", start)
	if err != nil {
		s.fail(gen, "compare", err)
		return
	}

	var handle artifact.Handle
	if result.Diff != nil {
		handle, err = s.artifacts.Put(result.Diff)
		if err != nil {
			s.fail(gen, "artifact", err)
			return
		}
	}

	s.mu.Lock()
	if !s.currentLocked(gen) || s.tracker != tracker {
		s.mu.Unlock()
		s.artifacts.Release(handle)
		s.stale(gen)
		return
	}
	tracker.Observe(result.SimilarityPercent)
	previous := s.diff
	s.diff = handle
	s.preview = actual
	s.lastErr = nil
	s.completed = gen
	update := s.updateLocked()
	s.cond.Broadcast()
	s.mu.Unlock()

	s.artifacts.Release(previous)
	metrics.LiveArtifacts.Set(float64(s.artifacts.Len()))
	s.log.Debug().
		Str("round", update.RoundID).
		Float64("current", update.Current).
		Float64("best", update.Best).
		Int("different", result.DifferentPixels).
		Msg("scored")
	s.publish(update)
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(gen)
}

// fail records a per-cycle failure. Scores are kept and the next edit retries.
func (s *Session) fail(gen uint64, stage string, err error) {
	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		s.stale(gen)
		return
	}
	s.lastErr = fmt.Errorf("%s: %w", stage, err)
	s.completed = gen
	update := s.updateLocked()
	s.cond.Broadcast()
	s.mu.Unlock()

	metrics.CycleFailures.WithLabelValues(stage).Inc()
	s.log.Warn().Err(err).Str("stage", stage).Str("round", update.RoundID).Msg("comparison skipped")
	s.publish(update)
}

func (s *Session) stale(gen uint64) {
	metrics.StaleResults.Inc()
	s.log.Debug().Uint64("generation", gen).Msg("discarding stale result")
}

func (s *Session) publish(u Update) {
	if s.opts.Listener == nil {
		return
	}
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	s.opts.Listener(u)
}
