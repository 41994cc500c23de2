// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Metrics are buffered in memory and submitted on a ticker (default once per
// minute) and one final time on Close. A long-running watch or stream session
// therefore produces a time series, and a one-shot conversion still gets its
// numbers out at exit.
//
// Concurrency model:
//   - any goroutine may call IncCounter/ObserveHistogram
//   - Flush snapshots and resets buffers under a mutex, then submits out-of-lock
//   - the flush loop calls Flush periodically; Close stops the loop
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"metricize/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "metricize".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "team:web"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets them.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the slice of *datadogV2.MetricsApi the backend uses.
// Tests substitute a fake so no HTTP happens.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	conversions map[string]float64 // unit -> count
	skipped     float64
	nodes       map[string]float64 // kind -> count
	batches     float64
	pages       map[string]float64   // status -> count
	pageDur     map[string][]float64 // status -> seconds
	httpReqs    map[string]float64   // status -> count
	httpDur     map[string][]float64 // status -> seconds
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop.
//
// Credentials and site come from the client's usual environment variables
// (DD_API_KEY, DD_SITE). Network errors surface from Flush, not here.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, wrapInitErr(fmt.Errorf("nil context"))
	}

	job := opts.JobName
	if job == "" {
		job = "metricize"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
	}
	b.reset()

	go b.loop()
	return b, nil
}

func (b *Backend) reset() {
	b.conversions = make(map[string]float64)
	b.skipped = 0
	b.nodes = make(map[string]float64)
	b.batches = 0
	b.pages = make(map[string]float64)
	b.pageDur = make(map[string][]float64)
	b.httpReqs = make(map[string]float64)
	b.httpDur = make(map[string][]float64)
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush.
// Calls after the first only repeat the final Flush.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

func labelOr(labels metrics.Labels, key, def string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return def
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.ConversionsTotal:
		b.conversions[labelOr(labels, "unit", "unknown")] += delta
	case metrics.SkippedTotal:
		b.skipped += delta
	case metrics.NodesTotal:
		b.nodes[labelOr(labels, "kind", "unknown")] += delta
	case metrics.BatchesTotal:
		b.batches += delta
	case metrics.PagesTotal:
		b.pages[labelOr(labels, "status", "unknown")] += delta
	case metrics.HTTPRequestsTotal:
		b.httpReqs[labelOr(labels, "status", "unknown")] += delta
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.PageDurationSeconds:
		k := labelOr(labels, "status", "unknown")
		b.pageDur[k] = append(b.pageDur[k], value)
	case metrics.HTTPDurationSeconds:
		k := labelOr(labels, "status", "unknown")
		b.httpDur[k] = append(b.httpDur[k], value)
	}
}

// snapshot is the detached buffer state one Flush submits.
type snapshot struct {
	conversions map[string]float64
	skipped     float64
	nodes       map[string]float64
	batches     float64
	pages       map[string]float64
	pageDur     map[string][]float64
	httpReqs    map[string]float64
	httpDur     map[string][]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		conversions: b.conversions,
		skipped:     b.skipped,
		nodes:       b.nodes,
		batches:     b.batches,
		pages:       b.pages,
		pageDur:     b.pageDur,
		httpReqs:    b.httpReqs,
		httpDur:     b.httpDur,
	}
	b.reset()
	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.conversions) == 0 &&
		s.skipped == 0 &&
		len(s.nodes) == 0 &&
		s.batches == 0 &&
		len(s.pages) == 0 &&
		len(s.pageDur) == 0 &&
		len(s.httpReqs) == 0 &&
		len(s.httpDur) == 0
}

// Flush submits buffered metrics and resets local buffers.
//
// Buffers are reset even when submission fails; delivery is best effort.
// Returns nil when there is nothing to submit.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	if err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries turns a snapshot into Datadog series at a fixed timestamp.
// Map iteration is sorted so payloads are deterministic.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	var series []datadogV2.MetricSeries

	for _, unit := range sortedKeys(s.conversions) {
		series = append(series, countSeries("metricize.conversions.total", s.conversions[unit], withTags(b.baseTags, "unit:"+unit), nowUnix))
	}
	if s.skipped != 0 {
		series = append(series, countSeries("metricize.skipped.total", s.skipped, b.baseTags, nowUnix))
	}
	for _, kind := range sortedKeys(s.nodes) {
		series = append(series, countSeries("metricize.nodes.total", s.nodes[kind], withTags(b.baseTags, "kind:"+kind), nowUnix))
	}
	if s.batches != 0 {
		series = append(series, countSeries("metricize.batches.total", s.batches, b.baseTags, nowUnix))
	}
	for _, st := range sortedKeys(s.pages) {
		series = append(series, countSeries("metricize.pages.total", s.pages[st], withTags(b.baseTags, "status:"+st), nowUnix))
	}
	for _, st := range sortedKeys(s.httpReqs) {
		series = append(series, countSeries("metricize.http.requests.total", s.httpReqs[st], withTags(b.baseTags, "status:"+st), nowUnix))
	}
	for _, st := range sortedKeys(s.pageDur) {
		addPercentiles(&series, withTags(b.baseTags, "status:"+st), "metricize.page.duration_seconds", s.pageDur[st], nowUnix)
	}
	for _, st := range sortedKeys(s.httpDur) {
		addPercentiles(&series, withTags(b.baseTags, "status:"+st), "metricize.http.request_duration_seconds", s.httpDur[st], nowUnix)
	}
	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges for samples.
// It sorts a copy; the input is not modified.
func addPercentiles(series *[]datadogV2.MetricSeries, tags []string, metricPrefix string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series,
		gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix),
		gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix),
		gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix),
		gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix),
		gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix),
		gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix),
	)
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,team:web".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func wrapInitErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("datadog metrics init: %w", err)
}
