// Package api exposes the scoring engine over HTTP: one-shot scoring, diff
// downloads and single-player rounds.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"cssbattle/pkg/artifact"
	"cssbattle/pkg/challenge"
	"cssbattle/pkg/logger"
	"cssbattle/pkg/markup"
	"cssbattle/pkg/metrics"
	"cssbattle/pkg/raster"
	"cssbattle/pkg/round"
	"cssbattle/pkg/store"
)

// Options wires the server to the scoring pipeline.
type Options struct {
	Engine    markup.Engine
	Targets   *raster.TargetLoader
	Artifacts *artifact.Store
	Catalog   *challenge.Catalog // optional
	Store     *store.Store       // optional
	// Session is the template for every round; Listener is ignored.
	Session round.Options
	// ScoreDiffs caps the diffs kept for one-shot scores; the oldest is
	// released first. Zero means DefaultScoreDiffs.
	ScoreDiffs int
	Logger     *zerolog.Logger
}

// DefaultScoreDiffs is the number of one-shot diffs kept for download.
const DefaultScoreDiffs = 32

// Server handles HTTP requests.
type Server struct {
	engine    markup.Engine
	targets   *raster.TargetLoader
	artifacts *artifact.Store
	catalog   *challenge.Catalog
	store     *store.Store
	session   round.Options
	log       zerolog.Logger
	startTime time.Time

	mu         sync.Mutex
	rounds     map[string]*round.Session
	scoreDiffs []artifact.Handle
	maxDiffs   int
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	log := logger.Component("api")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	session := opts.Session
	session.Listener = nil
	session.Logger = &log
	maxDiffs := opts.ScoreDiffs
	if maxDiffs <= 0 {
		maxDiffs = DefaultScoreDiffs
	}
	return &Server{
		maxDiffs:  maxDiffs,
		engine:    opts.Engine,
		targets:   opts.Targets,
		artifacts: opts.Artifacts,
		catalog:   opts.Catalog,
		store:     opts.Store,
		session:   session,
		log:       log,
		startTime: time.Now(),
		rounds:    make(map[string]*round.Session),
	}
}

// Routes sets up the HTTP routes with middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/score", s.handleScore)
		r.Get("/diff/{handle}", s.handleDiff)
		r.Delete("/diff/{handle}", s.handleReleaseDiff)
		r.Get("/challenges", s.handleListChallenges)
		r.Get("/submissions", s.handleListSubmissions)

		r.Route("/rounds", func(r chi.Router) {
			r.Post("/", s.handleCreateRound)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRound)
				r.Put("/source", s.handleSetSource)
				r.Post("/reset", s.handleResetSource)
				r.Post("/submit", s.handleSubmit)
				r.Delete("/", s.handleDeleteRound)
			})
		})
	})
	return r
}

// Close ends every open round without submitting.
func (s *Server) Close() error {
	s.mu.Lock()
	rounds := s.rounds
	s.rounds = make(map[string]*round.Session)
	s.mu.Unlock()
	for _, sess := range rounds {
		sess.Close()
	}
	s.mu.Lock()
	diffs := s.scoreDiffs
	s.scoreDiffs = nil
	s.mu.Unlock()
	for _, h := range diffs {
		s.artifacts.Release(h)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn().Err(err).Msg("encoding response")
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, CodeInvalid, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	Rounds        int    `json:"rounds"`
	Artifacts     int    `json:"artifacts"`
	ArtifactBytes string `json:"artifactBytes"`
	Targets       int    `json:"cachedTargets"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.rounds)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
		Rounds:        n,
		Artifacts:     s.artifacts.Len(),
		ArtifactBytes: humanize.Bytes(uint64(s.artifacts.Bytes())),
		Targets:       s.targets.Len(),
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// metricsMiddleware records request counts and durations by route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		metrics.RequestCounter.WithLabelValues(code, r.Method, route).Inc()
		metrics.RequestDuration.WithLabelValues(code, r.Method, route).Observe(time.Since(start).Seconds())
	})
}
