package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jwindhaber/async-csv/internal/aggregate"
	"github.com/jwindhaber/async-csv/internal/datasource/httpds"
	"github.com/jwindhaber/async-csv/internal/dialect"
	"github.com/jwindhaber/async-csv/internal/parser/csv"
	"github.com/jwindhaber/async-csv/internal/pipeline"
	"github.com/jwindhaber/async-csv/internal/storage"
)

const defaultHTTPRetries = 3

// Environment variables consulted for runtime values the file leaves unset.
const (
	EnvChunkHint    = "ASYNC_CSV_CHUNK_HINT"
	EnvReadSize     = "ASYNC_CSV_READ_SIZE"
	EnvWorkers      = "ASYNC_CSV_WORKERS"
	EnvQueueDepth   = "ASYNC_CSV_QUEUE_DEPTH"
	EnvMaxPending   = "ASYNC_CSV_MAX_PENDING"
	EnvChunkTimeout = "ASYNC_CSV_CHUNK_TIMEOUT"
	EnvBatchSize    = "ASYNC_CSV_BATCH_SIZE"
)

// Core resolves the immutable pipeline.Config. Runtime values come from the
// file, then from ASYNC_CSV_* variables, then from pipeline defaults.
func (p Pipeline) Core() (pipeline.Config, error) {
	opts, err := p.Parser.CSV()
	if err != nil {
		return pipeline.Config{}, err
	}
	rt := p.Runtime
	timeout, err := duration("runtime.chunk_timeout", rt.ChunkTimeout, os.Getenv(EnvChunkTimeout))
	if err != nil {
		return pipeline.Config{}, err
	}
	stall, err := duration("runtime.stall_after", rt.StallAfter, "")
	if err != nil {
		return pipeline.Config{}, err
	}
	cfg := pipeline.Config{
		Job:            p.Job,
		ChunkHint:      pickInt64(rt.ChunkHint, getenvInt64(EnvChunkHint, 0)),
		ReadSize:       pickInt(rt.ReadSize, getenvInt(EnvReadSize, 0)),
		Workers:        pickInt(rt.Workers, getenvInt(EnvWorkers, 0)),
		QueueDepth:     pickInt(rt.QueueDepth, getenvInt(EnvQueueDepth, 0)),
		MaxPending:     pickInt(rt.MaxPending, getenvInt(EnvMaxPending, 0)),
		ChunkTimeout:   timeout,
		StallAfter:     stall,
		HeartbeatEvery: rt.HeartbeatEvery,
		Parser:         opts,
	}.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	return cfg, nil
}

// BatchSize returns the sink batch size.
func (p Pipeline) BatchSize() int {
	return pickInt(p.Runtime.BatchSize, getenvInt(EnvBatchSize, storage.DefaultBatchSize))
}

// CSV maps the csv parser options onto csv.Options.
func (p Parser) CSV() (csv.Options, error) {
	o := p.Options
	var d dialect.Dialect
	var err error
	delim := o.String("delimiter", o.String("comma", ""))
	if d.Delimiter, err = oneByte("parser.options.delimiter", delim); err != nil {
		return csv.Options{}, err
	}
	if d.Quote, err = oneByte("parser.options.quote", o.String("quote", "")); err != nil {
		return csv.Options{}, err
	}
	if d.Escape, err = oneByte("parser.options.escape", o.String("escape", "")); err != nil {
		return csv.Options{}, err
	}
	if d.RecordSep, err = oneByte("parser.options.record_separator", o.String("record_separator", "")); err != nil {
		return csv.Options{}, err
	}
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		return csv.Options{}, err
	}
	return csv.Options{
		Dialect:   d,
		TrimSpace: o.Bool("trim_space", false),
		Encoding:  o.String("encoding", ""),
	}, nil
}

// HasHeader reports whether the first record is a header.
func (p Parser) HasHeader() bool { return p.Options.Bool("has_header", false) }

// ExpectedFields is the required record width, 0 when unconstrained.
func (p Parser) ExpectedFields() int { return p.Options.Int("expected_fields", 0) }

// AggregateOptions builds the aggregator options for one run.
func (p Pipeline) AggregateOptions(runID string) aggregate.Options {
	a := p.Aggregate
	return aggregate.Options{
		RunID:          runID,
		Batch:          a.Batch,
		HasHeader:      p.Parser.HasHeader(),
		ExpectedFields: p.Parser.ExpectedFields(),
		Reducers:       a.Reducers,
		GroupBy:        a.GroupBy,
		Rules:          a.Rules,
		SampleLimit:    a.SampleLimit,
	}
}

// StorageConfig builds the storage.Config of the sink.
func (s Storage) StorageConfig() storage.Config {
	cols := s.DB.Columns
	if len(s.File.Columns) > 0 {
		cols = s.File.Columns
	}
	return storage.Config{
		Kind:      s.Kind,
		DSN:       s.DB.DSN,
		Table:     s.DB.Table,
		Columns:   cols,
		Path:      s.File.Path,
		URL:       s.File.URL,
		Delimiter: s.File.Delimiter,
		Sheet:     s.File.Sheet,
	}
}

// ClientConfig builds the HTTP client configuration of an http source.
func (h SourceHTTP) ClientConfig() (httpds.Config, error) {
	timeout, err := duration("source.http.timeout", h.Timeout, "")
	if err != nil {
		return httpds.Config{}, err
	}
	cfg := httpds.Config{
		Timeout:            timeout,
		MaxRetries:         defaultHTTPRetries,
		RequestsPerSecond:  h.RequestsPerSecond,
		Burst:              h.Burst,
		InsecureSkipVerify: h.InsecureSkipVerify,
	}
	if h.MaxRetries != nil {
		cfg.MaxRetries = *h.MaxRetries
	}
	if len(h.Headers) > 0 {
		cfg.BaseHeaders = make(http.Header, len(h.Headers))
		for k, v := range h.Headers {
			cfg.BaseHeaders.Set(k, v)
		}
	}
	return cfg, nil
}

func oneByte(path, s string) (byte, error) {
	switch s {
	case "":
		return 0, nil
	case `\t`, "tab":
		return '\t', nil
	}
	if len(s) != 1 {
		return 0, fmt.Errorf("%s: want a single byte, got %q", path, s)
	}
	return s[0], nil
}

func duration(path, v, env string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		v = env
	}
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", path, d)
	}
	return d, nil
}

// getenvInt reads an int from environment, returning def when unset/invalid.
func getenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func getenvInt64(k string, def int64) int64 {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return def
}

// pickInt chooses the first positive value 'a', otherwise returns 'b'.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

func pickInt64(a, b int64) int64 {
	if a > 0 {
		return a
	}
	return b
}
