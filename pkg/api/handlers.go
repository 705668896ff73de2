package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"cssbattle/pkg/artifact"
	"cssbattle/pkg/challenge"
	"cssbattle/pkg/compare"
	"cssbattle/pkg/markup"
	"cssbattle/pkg/metrics"
	"cssbattle/pkg/round"
)

// ScoreRequest scores one solution against a target image.
type ScoreRequest struct {
	Markup string `json:"markup"`
	Style  string `json:"style"`
	Target string `json:"target"`
}

// ScoreResponse is the outcome of a one-shot comparison.
type ScoreResponse struct {
	SimilarityPercent float64         `json:"similarityPercent"`
	DifferentPixels   int             `json:"differentPixels"`
	TotalPixels       int             `json:"totalPixels"`
	Band              compare.Band    `json:"band"`
	Diff              artifact.Handle `json:"diff,omitempty"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		s.writeError(w, http.StatusUnprocessableEntity, CodeInvalid, "target is required")
		return
	}

	target, err := s.targets.Load(r.Context(), req.Target)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	ctx, cancel := s.captureContext(r.Context())
	defer cancel()
	renderer := markup.NewRenderer(s.engine)
	defer renderer.Close()

	result, _, err := round.Evaluate(ctx, renderer, markup.Document{Markup: req.Markup, Style: req.Style}, target, s.compareOptions())
	if err != nil {
		s.writeErr(w, err)
		return
	}

	resp := ScoreResponse{
		SimilarityPercent: result.SimilarityPercent,
		DifferentPixels:   result.DifferentPixels,
		TotalPixels:       result.TotalPixels,
		Band:              compare.BandOf(result.SimilarityPercent),
	}
	if result.Diff != nil {
		if resp.Diff, err = s.artifacts.Put(result.Diff); err != nil {
			s.writeErr(w, err)
			return
		}
		s.keepScoreDiff(resp.Diff)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) captureContext(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := s.session.CaptureTimeout
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

func (s *Server) compareOptions() compare.Options {
	if s.session.Compare == (compare.Options{}) {
		return compare.DefaultOptions()
	}
	return s.session.Compare
}

// keepScoreDiff tracks a one-shot diff and releases the oldest ones beyond
// the cap. Round diffs are owned by their sessions and never tracked here.
func (s *Server) keepScoreDiff(h artifact.Handle) {
	s.mu.Lock()
	s.scoreDiffs = append(s.scoreDiffs, h)
	var evicted []artifact.Handle
	if n := len(s.scoreDiffs) - s.maxDiffs; n > 0 {
		evicted = append(evicted, s.scoreDiffs[:n]...)
		s.scoreDiffs = append(s.scoreDiffs[:0], s.scoreDiffs[n:]...)
	}
	s.mu.Unlock()
	for _, old := range evicted {
		s.artifacts.Release(old)
	}
	metrics.LiveArtifacts.Set(float64(s.artifacts.Len()))
}

// handleReleaseDiff drops a one-shot diff. Diffs of live rounds are released
// by their round and cannot be deleted here.
func (s *Server) handleReleaseDiff(w http.ResponseWriter, r *http.Request) {
	h := artifact.Handle(chi.URLParam(r, "handle"))
	s.mu.Lock()
	idx := slices.Index(s.scoreDiffs, h)
	if idx >= 0 {
		s.scoreDiffs = slices.Delete(s.scoreDiffs, idx, idx+1)
	}
	s.mu.Unlock()
	if idx < 0 {
		s.writeError(w, http.StatusNotFound, CodeNotFound, "diff not found or released")
		return
	}
	s.artifacts.Release(h)
	metrics.LiveArtifacts.Set(float64(s.artifacts.Len()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	data, ok := s.artifacts.Get(artifact.Handle(chi.URLParam(r, "handle")))
	if !ok {
		s.writeError(w, http.StatusNotFound, CodeNotFound, "diff not found or released")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	var out []challenge.Challenge
	seen := make(map[string]bool)
	if s.catalog != nil {
		for _, c := range s.catalog.Challenges {
			out = append(out, c)
			seen[c.ID] = true
		}
	}
	if s.store != nil {
		stored, err := s.store.ListChallenges(r.Context())
		if err != nil {
			s.writeErr(w, err)
			return
		}
		for _, c := range stored {
			if !seen[c.ID] {
				out = append(out, c)
			}
		}
	}
	if out == nil {
		out = []challenge.Challenge{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"challenges": out})
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"submissions": []round.Submission{}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	subs, err := s.store.ListSubmissions(r.Context(), limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if subs == nil {
		subs = []round.Submission{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

// --------- Rounds ---------

// CreateRoundRequest starts a round for a known challenge or an ad-hoc target.
type CreateRoundRequest struct {
	ChallengeID string `json:"challengeId"`
	Target      string `json:"target"`
	Seconds     int    `json:"seconds"`
}

// SourceRequest replaces the player's document.
type SourceRequest struct {
	Markup string `json:"markup"`
	Style  string `json:"style"`
}

// RoundResponse is the public view of a round.
type RoundResponse struct {
	round.Update
	Clock    string       `json:"clock"`
	Critical bool         `json:"critical"`
	Band     compare.Band `json:"band"`
	Error    string       `json:"error,omitempty"`
}

func roundView(u round.Update) RoundResponse {
	resp := RoundResponse{
		Update:   u,
		Clock:    round.FormatClock(u.Remaining),
		Critical: round.Critical(u.Remaining) && u.Timer == round.TimerRunning,
		Band:     compare.BandOf(u.Best),
	}
	if u.Err != nil {
		resp.Error = u.Err.Error()
	}
	return resp
}

// SubmitResponse reports the recorded submission.
type SubmitResponse struct {
	Submission   round.Submission `json:"submission"`
	ForwardError string           `json:"forwardError,omitempty"`
}

func (s *Server) lookupChallenge(ctx context.Context, id string) (challenge.Challenge, error) {
	if s.catalog != nil {
		if c, ok := s.catalog.Get(id); ok {
			return c, nil
		}
	}
	if s.store != nil {
		return s.store.GetChallenge(ctx, id)
	}
	return challenge.Challenge{}, fmt.Errorf("challenge %s: %w", id, errNotFound)
}

func (s *Server) handleCreateRound(w http.ResponseWriter, r *http.Request) {
	var req CreateRoundRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Seconds < 0 {
		s.writeError(w, http.StatusUnprocessableEntity, CodeInvalid, "seconds must not be negative")
		return
	}

	var ch challenge.Challenge
	switch {
	case req.ChallengeID != "":
		var err error
		if ch, err = s.lookupChallenge(r.Context(), req.ChallengeID); err != nil {
			s.writeErr(w, err)
			return
		}
	case req.Target != "":
		ch = challenge.Challenge{ID: "custom", Target: req.Target, Difficulty: challenge.Easy}
	default:
		s.writeError(w, http.StatusUnprocessableEntity, CodeInvalid, "challengeId or target is required")
		return
	}

	opts := s.session
	if req.Seconds > 0 {
		opts.Seconds = req.Seconds
	}
	sess := round.NewSession(markup.NewRenderer(s.engine), s.targets, s.artifacts, opts)
	u, err := sess.Start(r.Context(), ch)
	if err != nil {
		sess.Close()
		s.writeErr(w, err)
		return
	}

	s.mu.Lock()
	s.rounds[u.RoundID] = sess
	s.mu.Unlock()
	s.writeJSON(w, http.StatusCreated, roundView(u))
}

func (s *Server) roundFor(w http.ResponseWriter, r *http.Request) (*round.Session, bool) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	sess, ok := s.rounds[id]
	s.mu.Unlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, CodeNotFound, "round "+id+" not found")
	}
	return sess, ok
}

// handleGetRound returns the round state. With ?wait=true it blocks until
// the latest source change has been scored.
func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.roundFor(w, r)
	if !ok {
		return
	}
	u := sess.Snapshot()
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		u = sess.Wait()
	}
	s.writeJSON(w, http.StatusOK, roundView(u))
}

func (s *Server) handleSetSource(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.roundFor(w, r)
	if !ok {
		return
	}
	var req SourceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := sess.SetSource(markup.Document{Markup: req.Markup, Style: req.Style}); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, roundView(sess.Snapshot()))
}

func (s *Server) handleResetSource(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.roundFor(w, r)
	if !ok {
		return
	}
	if err := sess.ResetSource(); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, roundView(sess.Snapshot()))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.roundFor(w, r)
	if !ok {
		return
	}
	sub, ok, err := sess.Submit(r.Context())
	if !ok {
		if err != nil {
			s.writeErr(w, err)
			return
		}
		if sess.Snapshot().State == round.StateSubmitted {
			s.writeErr(w, round.ErrSubmitted)
			return
		}
		s.writeError(w, http.StatusConflict, CodeNothingToSend, "best score is 0; nothing to submit")
		return
	}
	resp := SubmitResponse{Submission: sub}
	if err != nil {
		resp.ForwardError = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteRound(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	sess, ok := s.rounds[id]
	delete(s.rounds, id)
	s.mu.Unlock()
	if !ok {
		s.writeError(w, http.StatusNotFound, CodeNotFound, "round "+id+" not found")
		return
	}
	if err := sess.Close(); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn().Err(err).Str("round", id).Msg("closing round")
	}
	w.WriteHeader(http.StatusNoContent)
}
