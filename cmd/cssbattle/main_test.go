package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"cssbattle/pkg/config"
	"cssbattle/pkg/logger"
	"cssbattle/pkg/markup"
	"cssbattle/pkg/round"
	"cssbattle/pkg/store"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSourceFiles_Load(t *testing.T) {
	dir := t.TempDir()
	files := sourceFiles{HTML: filepath.Join(dir, "index.html"), CSS: filepath.Join(dir, "style.css")}

	if _, err := files.load(); err == nil {
		t.Error("missing markup must fail")
	}

	writeFile(t, files.HTML, "<div></div>")
	doc, err := files.load()
	if err != nil {
		t.Fatalf("missing stylesheet should be empty: %v", err)
	}
	if doc.Markup != "<div></div>" || doc.Style != "" {
		t.Errorf("doc = %+v", doc)
	}

	writeFile(t, files.CSS, "div{width:100px}")
	doc, _ = files.load()
	if doc.Style != "div{width:100px}" {
		t.Errorf("style = %q", doc.Style)
	}
}

func TestSourceFiles_Relevant(t *testing.T) {
	files := sourceFiles{HTML: "work/index.html", CSS: "work/style.css"}
	tests := []struct {
		ev   fsnotify.Event
		want bool
	}{
		{fsnotify.Event{Name: "work/index.html", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "work/./style.css", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "work/style.css", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "work/other.css", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		if got := files.relevant(tt.ev); got != tt.want {
			t.Errorf("relevant(%v) = %v, want %v", tt.ev, got, tt.want)
		}
	}
	if dirs := files.dirs(); len(dirs) != 1 || dirs[0] != "work" {
		t.Errorf("dirs = %v", dirs)
	}
}

func TestWatch_ReloadsOnSave(t *testing.T) {
	dir := t.TempDir()
	files := sourceFiles{HTML: filepath.Join(dir, "index.html"), CSS: filepath.Join(dir, "style.css")}
	writeFile(t, files.HTML, "<p>one</p>")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	docs := make(chan markup.Document, 8)
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, files, logger.New(&bytes.Buffer{}, "test"), func(d markup.Document) { docs <- d })
	}()

	// The watcher registers asynchronously; keep saving until it notices.
	deadline := time.After(5 * time.Second)
	for {
		writeFile(t, files.CSS, "p{color:red}")
		select {
		case d := <-docs:
			if d.Markup != "<p>one</p>" || d.Style != "p{color:red}" {
				t.Errorf("reloaded %+v", d)
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("watch returned %v", err)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no reload after saving")
		}
	}
}

func TestStatusLine(t *testing.T) {
	line := statusLine(round.Update{Current: 42.123, Best: 88, Remaining: 125, State: round.StateActive})
	for _, want := range []string{"2:05", "42.12%", "88.00%", "active", ansiGreen, ansiRed} {
		if !strings.Contains(line, want) {
			t.Errorf("status line %q lacks %q", line, want)
		}
	}
	line = statusLine(round.Update{Remaining: 30, State: round.StateActive, Err: errors.New("render: boom")})
	if !strings.Contains(line, ansiRed+"0:30"+ansiReset) || !strings.Contains(line, "render: boom") {
		t.Errorf("critical line = %q", line)
	}
}

func TestSelectChallenges(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "challenges.toml")
	writeFile(t, catalogPath, `
[[challenge]]
id = "a"
target = "a.png"

[[challenge]]
id = "b"
target = "b.png"
`)
	cfg := &config.Config{CatalogPath: catalogPath}

	q, err := selectChallenges(cfg, "", "http://x/t.png", false)
	if err != nil || q.Len() != 1 {
		t.Fatalf("target: %v %v", q, err)
	}
	if ch, _ := q.Current(); ch.Target != "http://x/t.png" {
		t.Errorf("custom challenge = %+v", ch)
	}

	q, err = selectChallenges(cfg, "", "", true)
	if err != nil || q.Len() != 2 {
		t.Fatalf("practice: %v", err)
	}

	q, err = selectChallenges(cfg, "b", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if ch, _ := q.Current(); ch.ID != "b" || ch.Target != filepath.Join(dir, "b.png") {
		t.Errorf("selected %+v", ch)
	}

	if _, err := selectChallenges(cfg, "zzz", "", false); err == nil || !strings.Contains(err.Error(), "a, b") {
		t.Errorf("unknown id error = %v", err)
	}
	if _, err := selectChallenges(cfg, "", "", false); err == nil {
		t.Error("no selection accepted")
	}
}

func TestPrintHistory(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()

	var buf bytes.Buffer
	if err := printHistory(ctx, &buf, db, 10); err != nil || !strings.Contains(buf.String(), "No submissions") {
		t.Fatalf("empty history: %q %v", buf.String(), err)
	}

	db.RecordSubmission(ctx, round.Submission{
		RoundID: "r1", ChallengeID: "box", Score: 91.5, Trigger: round.TriggerExpiry,
		Elapsed: 300 * time.Second, At: time.Now().Add(-2 * time.Hour),
	})
	buf.Reset()
	if err := printHistory(ctx, &buf, db, 10); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"2 hours ago", "box", "91.50%", "expiry", "5:00", "r1"} {
		if !strings.Contains(out, want) {
			t.Errorf("history %q lacks %q", out, want)
		}
	}
}
