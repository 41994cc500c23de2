package watch

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"metricize/internal/dom"
	"metricize/internal/rewrite"
)

func setup(t *testing.T, src string, opts ...Option) (*dom.Document, *rewrite.Scanner, *Watcher) {
	t.Helper()
	d, err := dom.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sc := rewrite.New(d)
	w := New(d, sc, opts...)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	return d, sc, w
}

// TestStart_ScansBody verifies the initial pass converts existing content.
func TestStart_ScansBody(t *testing.T) {
	t.Parallel()

	d, sc, _ := setup(t, `<p>5 miles</p>`)
	if sc.Stats().Converted != 1 {
		t.Fatalf("want 1 conversion on start, got %+v", sc.Stats())
	}
	if !strings.Contains(dom.RenderString(d.Body()), "(8.05 km)") {
		t.Fatalf("body not converted: %s", dom.RenderString(d.Body()))
	}
}

// TestStreaming_OnlyNewContent verifies appended content is converted and
// prior content is not converted again.
func TestStreaming_OnlyNewContent(t *testing.T) {
	t.Parallel()

	var hooks []Batch
	d, sc, w := setup(t, `<p>5 miles</p>`, WithBatchHook(func(b Batch) { hooks = append(hooks, b) }))

	if err := d.AppendHTML(d.Body(), `<div>Add 2 cups and 3 oz</div>`); err != nil {
		t.Fatal(err)
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	st := sc.Stats()
	if st.Converted != 2 {
		t.Fatalf("want 2 conversions total, got %+v", st)
	}
	out := dom.RenderString(d.Body())
	if strings.Count(out, "(8.05 km)") != 1 || strings.Count(out, "(85.05 g)") != 1 {
		t.Fatalf("unexpected body: %s", out)
	}

	// The scanner's own replacement must not come back as a new batch.
	if w.Batches() != 1 || len(hooks) != 1 {
		t.Fatalf("want exactly 1 batch, got %d (hooks %d)", w.Batches(), len(hooks))
	}
	if hooks[0].Added != 1 || hooks[0].Scanned != 1 {
		t.Fatalf("unexpected batch: %+v", hooks[0])
	}
}

// TestStreaming_TextAndNested verifies bare text nodes and nodes appended
// deep inside the body are both scanned.
func TestStreaming_TextAndNested(t *testing.T) {
	t.Parallel()

	d, sc, _ := setup(t, `<section><ul></ul></section>`)
	ul := d.Body().FirstChild.FirstChild

	li := d.CreateElement("li")
	d.AppendChild(ul, li)
	d.AppendChild(li, d.CreateText("4 qt"))
	d.AppendChild(d.Body(), d.CreateText("and 10 ft"))
	if err := d.Flush(); err != nil {
		t.Fatal(err)
	}

	if sc.Stats().Converted != 2 {
		t.Fatalf("want 2 conversions, got %+v", sc.Stats())
	}
	out := dom.RenderString(d.Body())
	if !strings.Contains(out, "(3.79 L)") || !strings.Contains(out, "(3.05 m)") {
		t.Fatalf("unexpected body: %s", out)
	}
}

// TestWatcher_IgnoresRemovalAndAttributes verifies only additions trigger
// scanning.
func TestWatcher_IgnoresRemovalAndAttributes(t *testing.T) {
	t.Parallel()

	d, sc, w := setup(t, `<p id="a">x</p><p>y</p>`)
	before := sc.Stats().Visited

	p := d.Body().FirstChild
	d.SetAttr(p, "title", "5 miles")
	if err := d.RemoveChild(d.Body(), p.NextSibling); err != nil {
		t.Fatal(err)
	}
	if err := d.Flush(); err != nil {
		t.Fatal(err)
	}

	if sc.Stats().Visited != before {
		t.Fatalf("removal/attribute changes should not scan: %+v", sc.Stats())
	}
	if w.Batches() != 1 {
		t.Fatalf("removal record should still arrive as one batch, got %d", w.Batches())
	}
}

// TestWatcher_Stop verifies no scanning happens after Stop and that Stop is
// idempotent.
func TestWatcher_Stop(t *testing.T) {
	t.Parallel()

	d, sc, w := setup(t, `<p></p>`)
	w.Stop()
	w.Stop()
	if w.Running() {
		t.Fatalf("watcher should not be running")
	}

	d.AppendChild(d.Body(), d.CreateText("5 miles"))
	_ = d.Flush()
	if sc.Stats().Converted != 0 {
		t.Fatalf("stopped watcher converted content: %+v", sc.Stats())
	}
	if err := w.Start(); !errors.Is(err, ErrStopped) {
		t.Fatalf("want ErrStopped, got %v", err)
	}
}

// TestWatcher_StartTwice verifies the running state is guarded.
func TestWatcher_StartTwice(t *testing.T) {
	t.Parallel()

	_, _, w := setup(t, `<p></p>`)
	if err := w.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("want ErrAlreadyStarted, got %v", err)
	}
}

// TestWatcher_IndependentInstances verifies two watchers on two documents
// share no state.
func TestWatcher_IndependentInstances(t *testing.T) {
	t.Parallel()

	d1, sc1, w1 := setup(t, `<p></p>`)
	d2, sc2, w2 := setup(t, `<p></p>`)

	d1.AppendChild(d1.Body(), d1.CreateText("1 lb"))
	_ = d1.Flush()
	_ = d2.Flush()

	if sc1.Stats().Converted != 1 || sc2.Stats().Converted != 0 {
		t.Fatalf("instances leaked: %+v / %+v", sc1.Stats(), sc2.Stats())
	}
	if w1.Batches() != 1 || w2.Batches() != 0 {
		t.Fatalf("unexpected batches: %d / %d", w1.Batches(), w2.Batches())
	}
}

// TestWatcher_ScriptAdded verifies an added script element is left alone.
func TestWatcher_ScriptAdded(t *testing.T) {
	t.Parallel()

	d, sc, _ := setup(t, `<p></p>`)
	if err := d.AppendHTML(d.Body(), `<script>let x = "5 miles";</script>`); err != nil {
		t.Fatal(err)
	}
	_ = d.Flush()
	if sc.Stats().Converted != 0 {
		t.Fatalf("script content converted: %+v", sc.Stats())
	}
}

// TestWatcher_AdditionsInsideSkippedElements verifies text and elements
// added later into an existing script, style, textarea or converted span are
// left exactly as inserted, while an ordinary paragraph still converts.
func TestWatcher_AdditionsInsideSkippedElements(t *testing.T) {
	t.Parallel()

	d, sc, _ := setup(t, `<html><head></head><body><script>var a=1;</script><style>p{}</style><textarea>x</textarea><p>1 lb</p></body></html>`)
	if sc.Stats().Converted != 1 {
		t.Fatalf("want 1 conversion on start, got %+v", sc.Stats())
	}

	body := d.Body()
	script := body.FirstChild
	style := script.NextSibling
	area := style.NextSibling
	p := area.NextSibling
	span := p.FirstChild
	if !rewrite.IsOriginal(span) {
		t.Fatalf("expected converted span in %s", dom.RenderString(p))
	}

	d.AppendChild(script, d.CreateText("var d = '5 miles';"))
	d.AppendChild(style, d.CreateText("/* 5 miles */"))
	d.AppendChild(area, d.CreateText(" 5 miles"))
	d.AppendChild(span, d.CreateText(" 5 miles"))
	b := d.CreateElement("b")
	b.AppendChild(d.CreateText("3 oz"))
	d.AppendChild(area, b)
	d.AppendChild(body, d.CreateText("2 ft"))
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := sc.Stats().Converted; got != 2 {
		t.Fatalf("want only the body text converted (2 total), got %d", got)
	}
	for _, tc := range []struct {
		n    *html.Node
		want string
	}{
		{script, "var a=1;var d = '5 miles';"},
		{style, "p{}/* 5 miles */"},
		{area, "x 5 miles3 oz"},
		{span, "1 lb 5 miles"},
	} {
		if got := dom.TextContent(tc.n); got != tc.want {
			t.Fatalf("text of <%s>: want %q, got %q", tc.n.Data, tc.want, got)
		}
	}
	if !strings.Contains(dom.RenderString(body), "(0.61 m)") {
		t.Fatalf("body text not converted: %s", dom.RenderString(body))
	}
}
