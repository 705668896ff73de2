package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"cssbattle/pkg/artifact"
	"cssbattle/pkg/challenge"
	"cssbattle/pkg/markup"
	"cssbattle/pkg/markup/markuptest"
	"cssbattle/pkg/raster"
	"cssbattle/pkg/resource"
	"cssbattle/pkg/round"
	"cssbattle/pkg/store"
)

var (
	coral = color.RGBA{0xdd, 0x6b, 0x4d, 255}
	navy  = color.RGBA{0x1a, 0x23, 0x7e, 255}
)

type testServer struct {
	server    *Server
	handler   http.Handler
	engine    *markuptest.Engine
	artifacts *artifact.Store
	store     *store.Store
	target    string
}

// coralTarget returns a data URI of a solid coral 400x300 PNG.
func coralTarget(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, markuptest.Solid(markup.Size(), coral)); err != nil {
		t.Fatal(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		engine: &markuptest.Engine{
			Paint: markuptest.ByKeyword(navy, markuptest.KeywordColor{Keyword: "MATCH", Color: coral}),
		},
		artifacts: artifact.NewStore(),
		target:    coralTarget(t),
	}

	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	ts.store = db

	catalog, err := challenge.ParseCatalog([]byte(`
[[challenge]]
id = "box"
title = "Box"
target = "`+ts.target+`"
difficulty = "easy"
`), "")
	if err != nil {
		t.Fatal(err)
	}

	ts.server = NewServer(Options{
		Engine:    ts.engine,
		Targets:   raster.NewTargetLoader(resource.NewFetcher(""), raster.FitContain),
		Artifacts: ts.artifacts,
		Catalog:   catalog,
		Store:     db,
		Session:   round.Options{Submitter: store.NewJournal(db)},
	})
	t.Cleanup(func() { ts.server.Close() })
	ts.handler = ts.server.Routes()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("Expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
	body := decodeBody[ErrorBody](t, w)
	if body.Error.Code != code || body.Error.Message == "" {
		t.Errorf("error body = %+v, want code %s", body, code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if h := decodeBody[HealthResponse](t, w); h.Status != "ok" {
		t.Errorf("health = %+v", h)
	}
}

func TestScoreEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/api/v1/score", ScoreRequest{Markup: `<div class="MATCH"></div>`, Target: ts.target})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[ScoreResponse](t, w)
	if resp.SimilarityPercent != 100 || resp.DifferentPixels != 0 || resp.TotalPixels != 400*300 || resp.Band != "high" {
		t.Errorf("score = %+v", resp)
	}
	if resp.Diff == "" {
		t.Fatal("expected a diff handle")
	}
	if ts.engine.Live() != 0 {
		t.Errorf("one-shot scoring left %d live surfaces", ts.engine.Live())
	}

	w = ts.do(t, "GET", "/api/v1/diff/"+string(resp.Diff), nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("diff download: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatalf("diff is not a PNG: %v", err)
	}
	if img.Bounds().Size() != markup.Size() {
		t.Errorf("diff size = %v", img.Bounds().Size())
	}

	w = ts.do(t, "POST", "/api/v1/score", ScoreRequest{Markup: "<p></p>", Target: ts.target})
	if resp := decodeBody[ScoreResponse](t, w); resp.SimilarityPercent != 0 || resp.Band != "low" {
		t.Errorf("mismatch score = %+v", resp)
	}
}

func TestScoreEndpoint_DiffsAreBounded(t *testing.T) {
	ts := newTestServer(t)

	var first, last ScoreResponse
	for i := 0; i < DefaultScoreDiffs+18; i++ {
		w := ts.do(t, "POST", "/api/v1/score", ScoreRequest{Markup: "<p></p>", Target: ts.target})
		if w.Code != http.StatusOK {
			t.Fatalf("score %d: %d %s", i, w.Code, w.Body.String())
		}
		resp := decodeBody[ScoreResponse](t, w)
		if i == 0 {
			first = resp
		}
		last = resp
	}
	if n := ts.artifacts.Len(); n != DefaultScoreDiffs {
		t.Errorf("live artifacts = %d, want %d", n, DefaultScoreDiffs)
	}
	if w := ts.do(t, "GET", "/api/v1/diff/"+string(first.Diff), nil); w.Code != http.StatusNotFound {
		t.Errorf("oldest diff should be evicted, got %d", w.Code)
	}
	if w := ts.do(t, "GET", "/api/v1/diff/"+string(last.Diff), nil); w.Code != http.StatusOK {
		t.Errorf("newest diff should be kept, got %d", w.Code)
	}

	if w := ts.do(t, "DELETE", "/api/v1/diff/"+string(last.Diff), nil); w.Code != http.StatusNoContent {
		t.Fatalf("release: %d", w.Code)
	}
	if n := ts.artifacts.Len(); n != DefaultScoreDiffs-1 {
		t.Errorf("live artifacts after release = %d", n)
	}
	expectError(t, ts.do(t, "DELETE", "/api/v1/diff/"+string(last.Diff), nil), http.StatusNotFound, CodeNotFound)

	ts.server.Close()
	if n := ts.artifacts.Len(); n != 0 {
		t.Errorf("close left %d artifacts", n)
	}
}

func TestScoreEndpoint_Errors(t *testing.T) {
	ts := newTestServer(t)

	expectError(t, ts.do(t, "POST", "/api/v1/score", ScoreRequest{Markup: "<div></div>"}), http.StatusUnprocessableEntity, CodeInvalid)
	expectError(t, ts.do(t, "POST", "/api/v1/score", ScoreRequest{Target: "data:image/png;base64,AAAA"}), http.StatusBadGateway, CodeUnavailable)
	expectError(t, ts.do(t, "GET", "/api/v1/diff/nope", nil), http.StatusNotFound, CodeNotFound)

	req := httptest.NewRequest("POST", "/api/v1/score", strings.NewReader("{"))
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	expectError(t, w, http.StatusUnprocessableEntity, CodeInvalid)
}

func TestRoundLifecycle(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/api/v1/rounds", CreateRoundRequest{ChallengeID: "box", Seconds: 120})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decodeBody[RoundResponse](t, w)
	if created.RoundID == "" || created.ChallengeID != "box" || created.Remaining != 120 || created.Clock != "2:00" {
		t.Fatalf("created = %+v", created)
	}
	base := "/api/v1/rounds/" + created.RoundID

	w = ts.do(t, "PUT", base+"/source", SourceRequest{Markup: `<div class="MATCH"></div>`})
	if w.Code != http.StatusAccepted {
		t.Fatalf("set source: %d %s", w.Code, w.Body.String())
	}
	got := decodeBody[RoundResponse](t, ts.do(t, "GET", base+"?wait=true", nil))
	if got.Current != 100 || got.Best != 100 || got.Band != "high" {
		t.Fatalf("after matching source: %+v", got)
	}

	w = ts.do(t, "POST", base+"/reset", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("reset: %d", w.Code)
	}
	got = decodeBody[RoundResponse](t, ts.do(t, "GET", base+"?wait=true", nil))
	if got.Current != 0 || got.Best != 100 {
		t.Fatalf("reset must keep best: %+v", got)
	}

	w = ts.do(t, "POST", base+"/submit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}
	sub := decodeBody[SubmitResponse](t, w)
	if sub.Submission.Score != 100 || sub.Submission.Trigger != round.TriggerManual || sub.ForwardError != "" {
		t.Errorf("submission = %+v", sub)
	}

	expectError(t, ts.do(t, "PUT", base+"/source", SourceRequest{Markup: "x"}), http.StatusConflict, CodeSubmitted)
	expectError(t, ts.do(t, "POST", base+"/submit", nil), http.StatusConflict, CodeSubmitted)

	w = ts.do(t, "GET", "/api/v1/submissions", nil)
	list := decodeBody[struct {
		Submissions []round.Submission `json:"submissions"`
	}](t, w)
	if len(list.Submissions) != 1 || list.Submissions[0].RoundID != created.RoundID {
		t.Errorf("journal = %+v", list.Submissions)
	}

	if w := ts.do(t, "DELETE", base, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	expectError(t, ts.do(t, "GET", base, nil), http.StatusNotFound, CodeNotFound)
	if ts.engine.Live() != 0 || ts.artifacts.Len() != 0 {
		t.Errorf("round left resources: surfaces=%d artifacts=%d", ts.engine.Live(), ts.artifacts.Len())
	}
}

func TestRound_ZeroScoreSubmit(t *testing.T) {
	ts := newTestServer(t)
	created := decodeBody[RoundResponse](t, ts.do(t, "POST", "/api/v1/rounds", CreateRoundRequest{Target: ts.target}))
	base := "/api/v1/rounds/" + created.RoundID

	if got := decodeBody[RoundResponse](t, ts.do(t, "GET", base+"?wait=1", nil)); got.Best != 0 {
		t.Fatalf("starter document should not match: %+v", got)
	}
	expectError(t, ts.do(t, "POST", base+"/submit", nil), http.StatusConflict, CodeNothingToSend)

	got := decodeBody[RoundResponse](t, ts.do(t, "GET", base, nil))
	if got.State == round.StateSubmitted {
		t.Error("rejected submit closed the round")
	}
}

func TestRound_CreateErrors(t *testing.T) {
	ts := newTestServer(t)
	expectError(t, ts.do(t, "POST", "/api/v1/rounds", CreateRoundRequest{}), http.StatusUnprocessableEntity, CodeInvalid)
	expectError(t, ts.do(t, "POST", "/api/v1/rounds", CreateRoundRequest{ChallengeID: "missing"}), http.StatusNotFound, CodeNotFound)
	expectError(t, ts.do(t, "POST", "/api/v1/rounds", CreateRoundRequest{Target: "data:image/png;base64,AAAA"}), http.StatusBadGateway, CodeUnavailable)
	expectError(t, ts.do(t, "POST", "/api/v1/rounds", CreateRoundRequest{Target: ts.target, Seconds: -1}), http.StatusUnprocessableEntity, CodeInvalid)
	expectError(t, ts.do(t, "PUT", "/api/v1/rounds/nope/source", SourceRequest{}), http.StatusNotFound, CodeNotFound)
}

func TestRound_StoredChallenge(t *testing.T) {
	ts := newTestServer(t)
	if err := ts.store.SaveChallenge(t.Context(), challenge.Challenge{ID: "stored", Target: ts.target}); err != nil {
		t.Fatal(err)
	}
	w := ts.do(t, "POST", "/api/v1/rounds", CreateRoundRequest{ChallengeID: "stored"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	list := decodeBody[struct {
		Challenges []challenge.Challenge `json:"challenges"`
	}](t, ts.do(t, "GET", "/api/v1/challenges", nil))
	if len(list.Challenges) != 2 || list.Challenges[0].ID != "box" || list.Challenges[1].ID != "stored" {
		t.Errorf("challenges = %+v", list.Challenges)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "GET", "/health", nil)
	w := ts.do(t, "GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `cssbattle_http_requests_total{method="GET",route="/health",status="200"}`) {
		t.Error("request counter not exported")
	}
}
