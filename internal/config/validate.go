package config

import (
	"fmt"
	"strings"

	"github.com/jwindhaber/async-csv/internal/parser/csv"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding. Path is a dotted path into
// the config (e.g. "storage.db.dsn", "aggregate.rules").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether issues contains a SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Known kinds. Unknown storage kinds are warnings so that out-of-tree
// backends can register themselves.
var (
	sourceKinds  = map[string]struct{}{"file": {}, "http": {}}
	dbKinds      = map[string]struct{}{"postgres": {}, "mssql": {}, "mysql": {}, "sqlite": {}}
	fileKinds    = map[string]struct{}{"csv": {}, "parquet": {}, "xlsx": {}}
	sinkOnlyKind = map[string]struct{}{"discard": {}, "none": {}}
)

// ValidatePipeline lints a decoded Pipeline without mutating it.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels logs and metrics",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateRuntime(p)...)
	issues = append(issues, validateAggregate(p)...)
	issues = append(issues, validateStorage(p.Storage)...)

	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  "source.kind must not be empty",
		})
	}
	if _, ok := sourceKinds[s.Kind]; !ok {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unknown source kind %q; want file or http", s.Kind),
		})
	}

	switch s.Kind {
	case "file":
		if strings.TrimSpace(s.File.Path) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.file.path",
				Message:  "file source requires a non-empty path",
			})
		}
	case "http":
		u := strings.TrimSpace(s.HTTP.URL)
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.http.url",
				Message:  fmt.Sprintf("http source requires an http(s) url, got %q", u),
			})
		}
		if _, err := s.HTTP.ClientConfig(); err != nil {
			issues = append(issues, Issue{Severity: SeverityError, Path: "source.http.timeout", Message: err.Error()})
		}
		if s.HTTP.MaxRetries != nil && *s.HTTP.MaxRetries < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "source.http.max_retries",
				Message:  "max_retries must not be negative",
			})
		}
	}

	if _, err := s.Codec(); err != nil {
		issues = append(issues, Issue{Severity: SeverityError, Path: "source.compression", Message: err.Error()})
	}
	return issues
}

func validateParser(p Parser) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Kind) == "" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  "parser.kind must not be empty",
		})
	}
	if p.Kind != "csv" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.kind",
			Message:  fmt.Sprintf("unknown parser kind %q; only csv is supported", p.Kind),
		})
	}
	if opts, err := p.CSV(); err != nil {
		issues = append(issues, Issue{Severity: SeverityError, Path: "parser.options", Message: err.Error()})
	} else if _, err := csv.NewParser(opts); err != nil {
		issues = append(issues, Issue{Severity: SeverityError, Path: "parser.options", Message: err.Error()})
	}
	if p.ExpectedFields() < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "parser.options.expected_fields",
			Message:  "expected_fields must not be negative",
		})
	}
	if !p.HasHeader() && p.ExpectedFields() == 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "parser.options",
			Message:  "csv parser has neither has_header nor expected_fields; record width is unconstrained",
		})
	}
	return issues
}

func validateRuntime(p Pipeline) []Issue {
	var issues []Issue
	r := p.Runtime

	for _, f := range []struct {
		path string
		v    int64
	}{
		{"runtime.chunk_hint", r.ChunkHint},
		{"runtime.read_size", int64(r.ReadSize)},
		{"runtime.workers", int64(r.Workers)},
		{"runtime.queue_depth", int64(r.QueueDepth)},
		{"runtime.max_pending", int64(r.MaxPending)},
		{"runtime.heartbeat_every", r.HeartbeatEvery},
		{"runtime.batch_size", int64(r.BatchSize)},
	} {
		if f.v < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     f.path,
				Message:  fmt.Sprintf("%s must not be negative", f.path[len("runtime."):]),
			})
		}
	}
	if r.ChunkHint > 0 && r.ChunkHint < 1024 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.chunk_hint",
			Message:  fmt.Sprintf("chunk_hint=%d; tiny chunks make scheduling dominate parsing", r.ChunkHint),
		})
	}
	if _, err := duration("runtime.chunk_timeout", r.ChunkTimeout, ""); err != nil {
		issues = append(issues, Issue{Severity: SeverityError, Path: "runtime.chunk_timeout", Message: err.Error()})
	}
	if _, err := duration("runtime.stall_after", r.StallAfter, ""); err != nil {
		issues = append(issues, Issue{Severity: SeverityError, Path: "runtime.stall_after", Message: err.Error()})
	}
	return issues
}

func validateAggregate(p Pipeline) []Issue {
	var issues []Issue
	if err := p.AggregateOptions("").Validate(); err != nil {
		issues = append(issues, Issue{Severity: SeverityError, Path: "aggregate", Message: err.Error()})
	}
	if p.Aggregate.SampleLimit < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "aggregate.sample_limit",
			Message:  "sample_limit must not be negative",
		})
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  `storage.kind must not be empty; use "none" to only aggregate`,
		})
	}

	if _, ok := dbKinds[s.Kind]; ok {
		if strings.TrimSpace(s.DB.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.db.dsn",
				Message:  "storage.db.dsn must not be empty",
			})
		}
		if strings.TrimSpace(s.DB.Table) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.db.table",
				Message:  "storage.db.table must not be empty",
			})
		}
		if !s.DB.AutoCreateTable {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "storage.db.auto_create_table",
				Message:  "auto_create_table is false; the table must already exist with text-compatible columns",
			})
		}
		return issues
	}

	if _, ok := fileKinds[s.Kind]; ok {
		path, url := strings.TrimSpace(s.File.Path), strings.TrimSpace(s.File.URL)
		switch {
		case s.Kind == "csv" && path != "" && url != "":
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.file",
				Message:  "csv sink takes either path or url, not both",
			})
		case s.Kind == "csv" && path == "" && url == "":
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.file.path",
				Message:  "csv sink requires a path or url",
			})
		case s.Kind != "csv" && path == "":
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.file.path",
				Message:  fmt.Sprintf("%s sink requires a path", s.Kind),
			})
		case s.Kind != "csv" && url != "":
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "storage.file.url",
				Message:  fmt.Sprintf("url is ignored by the %s sink", s.Kind),
			})
		}
		return issues
	}

	if _, ok := sinkOnlyKind[s.Kind]; ok {
		return issues
	}
	return append(issues, Issue{
		Severity: SeverityWarning,
		Path:     "storage.kind",
		Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", s.Kind),
	})
}
