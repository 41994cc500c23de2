package pageload

import (
	"metricize/internal/metrics"
	"metricize/internal/rewrite"
)

// Recorders fans one conversion out to several recorders. Nil entries are
// skipped.
type Recorders []rewrite.Recorder

// RecordConversion implements rewrite.Recorder.
func (rs Recorders) RecordConversion(c rewrite.Conversion) {
	for _, r := range rs {
		if r != nil {
			r.RecordConversion(c)
		}
	}
}

// metricsRecorder counts conversions per canonical unit.
type metricsRecorder struct{}

func (metricsRecorder) RecordConversion(c rewrite.Conversion) {
	metrics.IncCounter(metrics.ConversionsTotal, 1, metrics.Labels{"unit": c.Unit})
}

// reportStats publishes scanner counters that are not per-conversion.
func reportStats(s rewrite.Stats) {
	metrics.IncCounter(metrics.SkippedTotal, float64(s.Skipped), nil)
	metrics.IncCounter(metrics.NodesTotal, float64(s.Visited), metrics.Labels{"kind": "visited"})
	metrics.IncCounter(metrics.NodesTotal, float64(s.Rewritten), metrics.Labels{"kind": "rewritten"})
	metrics.IncCounter(metrics.NodesTotal, float64(s.Failures), metrics.Labels{"kind": "failed"})
}
