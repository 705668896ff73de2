package markup_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cssbattle/pkg/markup"
	"cssbattle/pkg/markup/markuptest"
)

func TestDocumentHTML_Wrapper(t *testing.T) {
	doc := markup.Document{Markup: `<p id="x"></p>`, Style: `#x{color:red}`}
	page := doc.HTML()

	for _, want := range []string{
		"width:400px;height:300px;overflow:hidden",
		"body{width:100%;height:100%;position:relative}",
		"#x{color:red}",
		`<p id="x"></p>`,
	} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Index(page, "position:relative") > strings.Index(page, "#x{color:red}") {
		t.Error("player style must come after the base rules")
	}
	if strings.Contains(page, "<link") {
		t.Error("page must not reference external stylesheets")
	}
}

func TestDocumentHTML_Malformed(t *testing.T) {
	doc := markup.Document{Markup: `<div><span></div`, Style: `.a{color:`}
	page := doc.HTML()
	if !strings.Contains(page, doc.Markup) || !strings.Contains(page, doc.Style) {
		t.Error("malformed input must be passed through untouched")
	}
}

func TestDefaultDocument(t *testing.T) {
	doc := markup.DefaultDocument()
	if doc.IsZero() {
		t.Fatal("default document is empty")
	}
	if !strings.Contains(doc.Style, "#dd6b4d") {
		t.Errorf("unexpected starter style: %s", doc.Style)
	}
}

func TestRenderer_TeardownBeforeCreate(t *testing.T) {
	engine := &markuptest.Engine{}
	r := markup.NewRenderer(engine)
	ctx := context.Background()
	doc := markup.DefaultDocument()

	for i := 0; i < 10; i++ {
		if _, err := r.Render(ctx, doc); err != nil {
			t.Fatalf("render %d: %v", i, err)
		}
		if engine.Live() != 1 {
			t.Fatalf("after render %d: %d live surfaces, want 1", i, engine.Live())
		}
	}
	if engine.Opened() != 10 {
		t.Errorf("opened %d surfaces, want 10", engine.Opened())
	}
	if r.Live() != 1 {
		t.Errorf("renderer holds %d surfaces, want 1", r.Live())
	}

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if engine.Live() != 0 || r.Live() != 0 {
		t.Errorf("surfaces left after close: engine=%d renderer=%d", engine.Live(), r.Live())
	}
}

func TestRenderer_OpenFailure(t *testing.T) {
	engine := &markuptest.Engine{
		OpenErr: func(page string) error {
			if strings.Contains(page, "boom") {
				return errors.New("out of memory")
			}
			return nil
		},
	}
	r := markup.NewRenderer(engine)
	ctx := context.Background()

	if _, err := r.Render(ctx, markup.DefaultDocument()); err != nil {
		t.Fatalf("render: %v", err)
	}
	_, err := r.Render(ctx, markup.Document{Markup: "boom"})
	if !errors.Is(err, markup.ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
	if engine.Live() != 0 {
		t.Errorf("previous surface must be torn down even when the next fails, live=%d", engine.Live())
	}
}

func TestRenderer_CancelledContextOpensNothing(t *testing.T) {
	engine := &markuptest.Engine{}
	r := markup.NewRenderer(engine)
	if _, err := r.Render(context.Background(), markup.DefaultDocument()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Render(ctx, markup.DefaultDocument())
	if !errors.Is(err, markup.ErrRender) {
		t.Fatalf("expected ErrRender, got %v", err)
	}
	if engine.Opened() != 1 {
		t.Errorf("opened %d surfaces, want 1", engine.Opened())
	}
	if engine.Live() != 0 || r.Live() != 0 {
		t.Errorf("cancelled render left surfaces: engine=%d renderer=%d", engine.Live(), r.Live())
	}
}
