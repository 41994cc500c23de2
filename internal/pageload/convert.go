// Package pageload runs the converter over whole pages: a single document
// from stdin, a file or a URL, a directory of files, or a live stream of
// fragments appended to a watched document.
package pageload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"metricize/internal/dom"
	"metricize/internal/metrics"
	"metricize/internal/rewrite"
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Options configure one conversion run.
type Options struct {
	// Page names the document in logs and ledger rows.
	Page string

	// Logger receives per-node failure lines. Nil discards them.
	Logger Logger

	// Recorder, if set, sees every applied conversion.
	Recorder rewrite.Recorder
}

// Result is the outcome of converting one document.
type Result struct {
	HTML  string
	Stats rewrite.Stats
}

// ConvertHTML parses src, converts the body, and renders the document back.
func ConvertHTML(ctx context.Context, src string, opts Options) (Result, error) {
	start := time.Now()
	res, err := convertHTML(ctx, src, opts)

	status := "ok"
	if err != nil {
		status = "error"
	}
	labels := metrics.Labels{"status": status}
	metrics.IncCounter(metrics.PagesTotal, 1, labels)
	metrics.ObserveHistogram(metrics.PageDurationSeconds, time.Since(start).Seconds(), labels)
	return res, err
}

func convertHTML(ctx context.Context, src string, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	gq, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}
	doc := dom.NewDocument(gq.Nodes[0])

	sc := newScanner(doc, opts)
	for _, body := range gq.Find("body").Nodes {
		sc.Scan(body)
	}
	stats := sc.Stats()
	reportStats(stats)

	var sb strings.Builder
	if err := doc.Render(&sb); err != nil {
		return Result{}, fmt.Errorf("render html: %w", err)
	}
	return Result{HTML: sb.String(), Stats: stats}, nil
}

// ConvertFile converts the HTML file at in and writes the result to out,
// creating out's directory if needed.
func ConvertFile(ctx context.Context, in, out string, opts Options) (rewrite.Stats, error) {
	b, err := os.ReadFile(in)
	if err != nil {
		return rewrite.Stats{}, fmt.Errorf("read %s: %w", in, err)
	}
	if opts.Page == "" {
		opts.Page = filepath.Base(in)
	}

	res, err := ConvertHTML(ctx, string(b), opts)
	if err != nil {
		return rewrite.Stats{}, fmt.Errorf("convert %s: %w", in, err)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return res.Stats, fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(out, []byte(res.HTML), 0o644); err != nil {
		return res.Stats, fmt.Errorf("write %s: %w", out, err)
	}
	return res.Stats, nil
}

func newScanner(doc *dom.Document, opts Options) *rewrite.Scanner {
	so := []rewrite.Option{
		rewrite.WithPage(opts.Page),
		rewrite.WithRecorder(Recorders{metricsRecorder{}, opts.Recorder}),
	}
	if opts.Logger != nil {
		so = append(so, rewrite.WithLogger(opts.Logger))
	}
	return rewrite.New(doc, so...)
}
