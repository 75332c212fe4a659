// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// A CSV run is a batch job: it has no long-lived HTTP endpoint to scrape, so
// collectors live in a private registry that Flush pushes to a Pushgateway
// under the job's grouping key.
package prompush

import (
	"fmt"

	"github.com/jwindhaber/async-csv/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	runID      string // optional "run" grouping label
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec // step, status
	stepDuration *prometheus.SummaryVec // step, status

	recordCounter *prometheus.CounterVec // kind
	batchCounter  prometheus.Counter

	chunkCounter  *prometheus.CounterVec   // outcome
	chunkDuration *prometheus.HistogramVec // outcome
	chunkBytes    prometheus.Counter
	stallCounter  prometheus.Counter
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName is the Pushgateway "job" name; gatewayURL the Pushgateway base URL.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "async-csv"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Run stage executions, partitioned by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Duration of run stages in seconds, partitioned by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "status"}),
		recordCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Record-level counts per kind (delivered, record_parse_error, inserted, ...).",
		}, []string{"kind"}),
		batchCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Sink batches flushed for this job.",
		}),
		chunkCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.ChunksTotal,
			Help: "Chunks that left the parser pool, partitioned by outcome.",
		}, []string{"outcome"}),
		chunkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.ChunkParseDuration,
			Help:    "Per-chunk parse latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"outcome"}),
		chunkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.ChunkBytesTotal,
			Help: "Source bytes parsed.",
		}),
		stallCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.StallsTotal,
			Help: "Times delivery waited on subscriber demand past the stall threshold.",
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter":   b.stepCounter,
		"step summary":   b.stepDuration,
		"record counter": b.recordCounter,
		"batch counter":  b.batchCounter,
		"chunk counter":  b.chunkCounter,
		"chunk latency":  b.chunkDuration,
		"chunk bytes":    b.chunkBytes,
		"stall counter":  b.stallCounter,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

// WithRunID adds a "run" grouping label to pushes so concurrent runs of the
// same job do not overwrite each other.
func (b *Backend) WithRunID(id string) *Backend {
	b.runID = id
	return b
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter != nil {
			b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
		}
	case metrics.RecordsTotal:
		if b.recordCounter != nil {
			b.recordCounter.WithLabelValues(labels["kind"]).Add(delta)
		}
	case metrics.BatchesTotal:
		if b.batchCounter != nil {
			b.batchCounter.Add(delta)
		}
	case metrics.ChunksTotal:
		if b.chunkCounter != nil {
			b.chunkCounter.WithLabelValues(labels["outcome"]).Add(delta)
		}
	case metrics.ChunkBytesTotal:
		if b.chunkBytes != nil {
			b.chunkBytes.Add(delta)
		}
	case metrics.StallsTotal:
		if b.stallCounter != nil {
			b.stallCounter.Add(delta)
		}
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	switch name {
	case metrics.StepDuration:
		if b.stepDuration != nil {
			b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
		}
	case metrics.ChunkParseDuration:
		if b.chunkDuration != nil {
			b.chunkDuration.WithLabelValues(labels["outcome"]).Observe(value)
		}
	}
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	p := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg)
	if b.runID != "" {
		p = p.Grouping("run", b.runID)
	}
	return p.Push()
}
