// Package config defines the pipeline file model of async-csv. A pipeline
// file is JSON or YAML and maps one to one onto Pipeline:
//
//	job: daily-registry
//	source:
//	  kind: http
//	  http: { url: "https://bucket.example/registry.csv.gz" }
//	parser:
//	  kind: csv
//	  options: { has_header: true, delimiter: ";", encoding: windows-1250 }
//	runtime: { workers: 8, chunk_hint: 4194304, chunk_timeout: 30s }
//	aggregate:
//	  reducers: [{ column: amount, ops: [count, sum, mean] }]
//	  rules: [{ column: vin, required: true, max_length: 17 }]
//	storage:
//	  kind: postgres
//	  db: { dsn: "postgresql://...", table: public.registry, auto_create_table: true }
//
// Load decodes a file; Pipeline.Core resolves the immutable pipeline.Config
// with environment fallbacks.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jwindhaber/async-csv/internal/aggregate"
	"github.com/jwindhaber/async-csv/internal/compression"
)

// ErrUnsupportedFormat is returned by Load for files that are neither JSON
// nor YAML.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Pipeline is the top-level object of a pipeline file.
type Pipeline struct {
	// Job labels logs and metrics.
	Job string `json:"job" yaml:"job"`

	Source    Source        `json:"source" yaml:"source"`
	Parser    Parser        `json:"parser" yaml:"parser"`
	Runtime   RuntimeConfig `json:"runtime" yaml:"runtime"`
	Aggregate Aggregate     `json:"aggregate" yaml:"aggregate"`
	Storage   Storage       `json:"storage" yaml:"storage"`
}

// Source identifies the input bytes.
type Source struct {
	// Kind is "file" or "http".
	Kind string     `json:"kind" yaml:"kind"`
	File SourceFile `json:"file" yaml:"file"`
	HTTP SourceHTTP `json:"http" yaml:"http"`

	// Compression is "auto" (or empty) to detect the codec from the file
	// name, "none", or a codec name (gz, bz2, xz, zst). Compressed input is
	// spooled to a temp file before parsing.
	Compression string `json:"compression" yaml:"compression"`
	SpoolDir    string `json:"spool_dir" yaml:"spool_dir"`
	KeepSpool   bool   `json:"keep_spool" yaml:"keep_spool"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	Path string `json:"path" yaml:"path"`
}

// SourceHTTP configures ranged reads of a remote object.
type SourceHTTP struct {
	URL string `json:"url" yaml:"url"`
	// Timeout is a Go duration ("30s"); empty uses the client default.
	Timeout string `json:"timeout" yaml:"timeout"`
	// MaxRetries nil keeps the client default.
	MaxRetries         *int              `json:"max_retries" yaml:"max_retries"`
	RequestsPerSecond  float64           `json:"requests_per_second" yaml:"requests_per_second"`
	Burst              int               `json:"burst" yaml:"burst"`
	Headers            map[string]string `json:"headers" yaml:"headers"`
	InsecureSkipVerify bool              `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// Name returns the path or URL of the source.
func (s Source) Name() string {
	if s.Kind == "http" {
		return s.HTTP.URL
	}
	return s.File.Path
}

// Codec resolves Compression against the source name.
func (s Source) Codec() (compression.Type, error) {
	switch c := strings.ToLower(strings.TrimSpace(s.Compression)); c {
	case "", "auto":
		name := s.Name()
		if s.Kind == "http" {
			// Ignore the query string of presigned URLs.
			if i := strings.IndexByte(name, '?'); i >= 0 {
				name = name[:i]
			}
		}
		return compression.Detect(name), nil
	default:
		return compression.Parse(c)
	}
}

// Parser selects how raw bytes are split into records.
type Parser struct {
	// Kind selects the parser. Current value: "csv".
	Kind string `json:"kind" yaml:"kind"`

	// Options is interpreted by the parser. For csv the keys are:
	//   has_header (bool), delimiter or comma (string), quote (string),
	//   escape (string), record_separator (string), trim_space (bool),
	//   encoding (string), expected_fields (int)
	Options Options `json:"options" yaml:"options"`
}

// RuntimeConfig controls chunking, concurrency and batching. Zero values
// fall back to ASYNC_CSV_* environment variables, then to defaults.
type RuntimeConfig struct {
	ChunkHint  int64 `json:"chunk_hint" yaml:"chunk_hint"`
	ReadSize   int   `json:"read_size" yaml:"read_size"`
	Workers    int   `json:"workers" yaml:"workers"`
	QueueDepth int   `json:"queue_depth" yaml:"queue_depth"`
	MaxPending int   `json:"max_pending" yaml:"max_pending"`
	// ChunkTimeout and StallAfter are Go durations ("30s").
	ChunkTimeout   string `json:"chunk_timeout" yaml:"chunk_timeout"`
	StallAfter     string `json:"stall_after" yaml:"stall_after"`
	HeartbeatEvery int64  `json:"heartbeat_every" yaml:"heartbeat_every"`
	// BatchSize is the sink batch size.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// Aggregate configures the statistics collected over the stream.
type Aggregate struct {
	// Batch is the demand requested at a time when no sink is configured.
	Batch       int64                   `json:"batch" yaml:"batch"`
	Reducers    []aggregate.ReducerSpec `json:"reducers" yaml:"reducers"`
	GroupBy     string                  `json:"group_by" yaml:"group_by"`
	Rules       []aggregate.Rule        `json:"rules" yaml:"rules"`
	SampleLimit int                     `json:"sample_limit" yaml:"sample_limit"`
	// Report is where the JSON report is written: a path, "-" for stdout,
	// or empty for none.
	Report string `json:"report" yaml:"report"`
}

// Storage selects the sink.
type Storage struct {
	// Kind is a registered storage kind, or "none" to only aggregate.
	Kind string     `json:"kind" yaml:"kind"`
	DB   DBConfig   `json:"db" yaml:"db"`
	File FileConfig `json:"file" yaml:"file"`
}

// DBConfig configures the database sinks.
type DBConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
	// Table may be schema qualified ("public.t").
	Table string `json:"table" yaml:"table"`
	// Columns names the destination columns in field order. Empty: taken
	// from the header, or col_0..col_n.
	Columns         []string `json:"columns" yaml:"columns"`
	AutoCreateTable bool     `json:"auto_create_table" yaml:"auto_create_table"`
}

// FileConfig configures the csv, parquet and xlsx sinks.
type FileConfig struct {
	Path string `json:"path" yaml:"path"`
	// URL uploads csv output with HTTP PUT.
	URL       string `json:"url" yaml:"url"`
	Delimiter string `json:"delimiter" yaml:"delimiter"`
	Sheet     string `json:"sheet" yaml:"sheet"`
	// Columns overrides the header-derived column names.
	Columns []string `json:"columns" yaml:"columns"`
}

// Load reads a pipeline file. The format follows the extension: .json,
// .yaml or .yml.
func Load(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	p, err := Decode(f, format)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return p, nil
}

// Decode reads a pipeline in format "json", "yaml" or "yml".
func Decode(r io.Reader, format string) (Pipeline, error) {
	var p Pipeline
	switch format {
	case "json":
		if err := json.NewDecoder(r).Decode(&p); err != nil {
			return Pipeline{}, err
		}
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&p); err != nil && !errors.Is(err, io.EOF) {
			return Pipeline{}, err
		}
	default:
		return Pipeline{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if p.Parser.Options == nil {
		p.Parser.Options = Options{}
	}
	return p, nil
}
