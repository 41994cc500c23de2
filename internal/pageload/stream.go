package pageload

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"metricize/internal/dom"
	"metricize/internal/metrics"
	"metricize/internal/rewrite"
	"metricize/internal/watch"
)

const shell = "<html><head></head><body></body></html>"

// maxFragment bounds one input line.
const maxFragment = 1 << 20

// Stream runs the converter in live mode. It starts a watcher on an empty
// document, then reads r one line at a time: each non-blank line is parsed as
// an HTML fragment and appended to the body, the mutation queue is flushed,
// and the rendered nodes the line produced are written to w followed by a
// newline.
//
// Conversion happens only through the watcher, so Stream exercises the same
// path a long-lived page does.
func Stream(ctx context.Context, r io.Reader, w io.Writer, opts Options) (rewrite.Stats, error) {
	doc, err := dom.Parse(strings.NewReader(shell))
	if err != nil {
		return rewrite.Stats{}, err
	}
	body := doc.Body()

	sc := newScanner(doc, opts)
	wo := []watch.Option{
		watch.WithBatchHook(func(watch.Batch) {
			metrics.IncCounter(metrics.BatchesTotal, 1, nil)
		}),
	}
	if opts.Logger != nil {
		wo = append(wo, watch.WithLogger(opts.Logger))
	}
	wt := watch.New(doc, sc, wo...)
	if err := wt.Start(); err != nil {
		return rewrite.Stats{}, fmt.Errorf("start watcher: %w", err)
	}
	defer wt.Stop()

	defer func() { reportStats(sc.Stats()) }()

	in := bufio.NewScanner(r)
	in.Buffer(make([]byte, 0, 64*1024), maxFragment)

	for in.Scan() {
		if err := ctx.Err(); err != nil {
			return sc.Stats(), err
		}
		line := in.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		prev := body.LastChild
		if err := doc.AppendHTML(body, line); err != nil {
			return sc.Stats(), fmt.Errorf("append fragment: %w", err)
		}
		if err := doc.Flush(); err != nil {
			return sc.Stats(), fmt.Errorf("flush: %w", err)
		}

		if err := writeAfter(w, body, prev); err != nil {
			return sc.Stats(), fmt.Errorf("write output: %w", err)
		}
	}
	if err := in.Err(); err != nil {
		return sc.Stats(), fmt.Errorf("read input: %w", err)
	}
	return sc.Stats(), nil
}

// writeAfter renders the children of parent that follow prev (all of them
// when prev is nil) on one line.
func writeAfter(w io.Writer, parent, prev *html.Node) error {
	start := parent.FirstChild
	if prev != nil {
		start = prev.NextSibling
	}
	var sb strings.Builder
	for n := start; n != nil; n = n.NextSibling {
		sb.WriteString(dom.RenderString(n))
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(w, sb.String())
	return err
}
