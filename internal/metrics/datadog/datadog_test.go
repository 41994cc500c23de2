package datadog

import (
	"context"
	"errors"
	"net/http"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"metricize/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

func quietOptions(fs *fakeSubmitter) Options {
	return Options{
		JobName:    "test",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(1000, 0) },
		newTicker:  func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func findSeries(p datadogV2.MetricPayload, metric string, tag string) (datadogV2.MetricSeries, bool) {
	for _, s := range p.Series {
		if s.Metric == metric && (tag == "" || contains(s.Tags, tag)) {
			return s, true
		}
	}
	return datadogV2.MetricSeries{}, false
}

// TestResolveEnvTag verifies environment-tag precedence and defaults.
//
// Not parallel: mutates process environment.
func TestResolveEnvTag(t *testing.T) {
	oldENV := os.Getenv("ENV")
	oldDDENV := os.Getenv("DD_ENV")
	t.Cleanup(func() {
		_ = os.Setenv("ENV", oldENV)
		_ = os.Setenv("DD_ENV", oldDDENV)
	})

	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_ = os.Setenv("ENV", tc.env)
			_ = os.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

// TestNewBackend_Defaults verifies job and flush defaults without real HTTP.
func TestNewBackend_Defaults(t *testing.T) {
	opts := quietOptions(&fakeSubmitter{})
	opts.JobName = ""
	opts.FlushEvery = 0
	opts.Tags = []string{"team:web"}

	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if !contains(b.baseTags, "job:metricize") || !contains(b.baseTags, "team:web") {
		t.Fatalf("unexpected baseTags: %v", b.baseTags)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
}

// TestFlush_SubmitsAndResets verifies a flush carries every buffered metric
// with the right tags and that the next flush has nothing to send.
func TestFlush_SubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.ConversionsTotal, 2, metrics.Labels{"unit": "mile"})
	b.IncCounter(metrics.ConversionsTotal, 1, metrics.Labels{"unit": "foot"})
	b.IncCounter(metrics.SkippedTotal, 1, nil)
	b.IncCounter(metrics.NodesTotal, 5, metrics.Labels{"kind": "visited"})
	b.IncCounter(metrics.BatchesTotal, 3, nil)
	b.IncCounter(metrics.PagesTotal, 1, metrics.Labels{"status": "ok"})
	b.IncCounter(metrics.HTTPRequestsTotal, 1, metrics.Labels{"status": "200"})
	b.ObserveHistogram(metrics.PageDurationSeconds, 0.25, metrics.Labels{"status": "ok"})
	b.ObserveHistogram(metrics.HTTPDurationSeconds, 0.1, metrics.Labels{"status": "200"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	p, ok := fs.last()
	if !ok {
		t.Fatalf("nothing submitted")
	}

	s, ok := findSeries(p, "metricize.conversions.total", "unit:mile")
	if !ok || *s.Points[0].Value != 2 || *s.Points[0].Timestamp != 1000 {
		t.Fatalf("missing or wrong mile conversion series: %#v", s)
	}
	for _, m := range []string{
		"metricize.skipped.total",
		"metricize.nodes.total",
		"metricize.batches.total",
		"metricize.pages.total",
		"metricize.http.requests.total",
		"metricize.page.duration_seconds.p50",
		"metricize.http.request_duration_seconds.samples",
	} {
		if _, ok := findSeries(p, m, ""); !ok {
			t.Fatalf("missing series %s", m)
		}
	}
	for _, s := range p.Series {
		if !contains(s.Tags, "job:test") {
			t.Fatalf("series %s missing job tag: %v", s.Metric, s.Tags)
		}
	}

	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("empty flush should not submit; submissions=%d", fs.count())
	}
}

// TestFlush_ErrorWrapped verifies submission errors surface wrapped.
func TestFlush_ErrorWrapped(t *testing.T) {
	boom := errors.New("boom")
	fs := &fakeSubmitter{err: boom}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatal(err)
	}
	b.IncCounter(metrics.BatchesTotal, 1, nil)
	if err := b.Flush(); !errors.Is(err, boom) {
		t.Fatalf("want wrapped boom, got %v", err)
	}
	fs.err = nil
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestIncCounter_IgnoresNoise verifies non-positive deltas, negative samples
// and unknown names are dropped.
func TestIncCounter_IgnoresNoise(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.ConversionsTotal, 0, metrics.Labels{"unit": "mile"})
	b.IncCounter(metrics.ConversionsTotal, -1, metrics.Labels{"unit": "mile"})
	b.IncCounter("something_else", 1, nil)
	b.ObserveHistogram(metrics.PageDurationSeconds, -1, nil)
	b.ObserveHistogram("something_else", 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatal(err)
	}
	if fs.count() != 0 {
		t.Fatalf("noise should not be submitted")
	}
}

// TestLoopAndClose verifies the ticker drives flushes and Close performs a
// final one.
func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	opts := quietOptions(fs)
	opts.newTicker = func(d time.Duration) *time.Ticker { return time.NewTicker(5 * time.Millisecond) }

	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	b.IncCounter(metrics.BatchesTotal, 1, nil)

	deadline := time.Now().Add(2 * time.Second)
	for fs.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fs.count() == 0 {
		t.Fatalf("ticker did not flush")
	}

	b.IncCounter(metrics.BatchesTotal, 1, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if fs.count() < 2 {
		t.Fatalf("Close should flush remaining metrics; submissions=%d", fs.count())
	}
}

func TestPercentileNearestRank(t *testing.T) {
	s := []float64{1, 2, 3, 4, 5}
	tests := map[float64]float64{0: 1, 0.5: 3, 0.9: 5, 1: 5}
	for p, want := range tests {
		if got := percentileNearestRank(s, p); got != want {
			t.Fatalf("p=%v: got %v want %v", p, got, want)
		}
	}
	if got := percentileNearestRank(nil, 0.5); got != 0 {
		t.Fatalf("empty: got %v", got)
	}
}

func TestParseTagsCSV(t *testing.T) {
	got := ParseTagsCSV(" env:prod, ,team:web ")
	want := []string{"env:prod", "team:web"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseTagsCSV: want %v got %v", want, got)
	}
	if ParseTagsCSV("") != nil {
		t.Fatalf("empty input should yield nil")
	}
}

func TestWrapInitErr(t *testing.T) {
	if wrapInitErr(nil) != nil {
		t.Fatalf("nil should stay nil")
	}
	base := errors.New("x")
	if err := wrapInitErr(base); !errors.Is(err, base) {
		t.Fatalf("wrapInitErr lost cause: %v", err)
	}
}
