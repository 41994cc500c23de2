// Package metrics is a small process-wide metrics facade.
//
// Engine and command code call IncCounter/ObserveHistogram with fixed metric
// names; the configured Backend decides what to keep. The default backend
// drops everything, so code that never calls SetBackend pays nothing.
package metrics

import "sync"

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by this module.
const (
	ConversionsTotal    = "metricize_conversions_total"     // labels: unit
	SkippedTotal        = "metricize_skipped_total"         // matches left unconverted
	NodesTotal          = "metricize_nodes_total"           // labels: kind (visited|rewritten|failed)
	BatchesTotal        = "metricize_batches_total"         // mutation batches handled
	PagesTotal          = "metricize_pages_total"           // labels: status (ok|error)
	PageDurationSeconds = "metricize_page_duration_seconds" // labels: status
	HTTPRequestsTotal   = "metricize_http_requests_total"   // labels: status
	HTTPDurationSeconds = "metricize_http_request_duration_seconds"
)

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}
func (nop) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nop{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush asks the backend to submit what it buffered.
func Flush() error {
	return current().Flush()
}
