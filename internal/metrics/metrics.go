// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the CSV pipeline.
//
// The package exposes a narrow interface (Backend) focused on counters and
// timing data, plus a global, pluggable backend that defaults to a no-op
// implementation so metrics are always safe to call. Concrete systems live in
// subpackages (prompush, datadog) and are installed once at startup with
// SetBackend, before any pipeline runs.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Metric names shared with the backends.
const (
	StepTotal          = "csv_step_total"
	StepDuration       = "csv_step_duration_seconds"
	RecordsTotal       = "csv_records_total"
	BatchesTotal       = "csv_batches_total"
	ChunksTotal        = "csv_chunks_total"
	ChunkParseDuration = "csv_chunk_parse_seconds"
	ChunkBytesTotal    = "csv_chunk_bytes_total"
	StallsTotal        = "csv_stalls_total"
)

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep measures latency and success/failure of one run stage
// (spool, scan, parse, load, ...).
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow increments a record-level counter for the given job and kind.
//
// Typical kinds:
//   - "delivered"
//   - "record_parse_error", "malformed_input", "chunk_timeout"
//   - "rejected" (width or rule violations)
//   - "inserted"
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBatches increments a batch-level counter for the given job.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(BatchesTotal, float64(delta), Labels{
		"job": job,
	})
}

// RecordChunk records one chunk leaving the parser pool. outcome is one of
// "parsed", "retried", "timeout" or "malformed".
func RecordChunk(job, outcome string, size int64, d time.Duration) {
	lbls := Labels{
		"job":     job,
		"outcome": outcome,
	}
	backend.IncCounter(ChunksTotal, 1, lbls)
	backend.ObserveHistogram(ChunkParseDuration, d.Seconds(), lbls)
	if size > 0 {
		backend.IncCounter(ChunkBytesTotal, float64(size), Labels{"job": job})
	}
}

// RecordStall counts a delivery stall: the subscriber held back demand for
// longer than the configured stall threshold.
func RecordStall(job string) {
	backend.IncCounter(StallsTotal, 1, Labels{"job": job})
}
