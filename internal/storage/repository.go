// Package storage is the sink side of the pipeline. Backends register a
// Factory by kind; callers open a Repository with New and feed it through a
// Writer, which batches clean records into CopyFrom calls.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Repository is a bulk-load target. Values in rows are raw field strings
// aligned to columns; no coercion happens on the way in.
type Repository interface {
	CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error)
	Exec(ctx context.Context, sql string) error
	Close()
}

// Flusher is implemented by sinks that finalize their output once, after the
// last batch (file footers, uploads). The Writer calls Flush only after a
// successful load, also when no row was copied; columns lets such a sink
// still write a header.
type Flusher interface {
	Flush(ctx context.Context, columns []string) error
}

// Config selects and configures a backend.
type Config struct {
	Kind string

	// Database sinks.
	DSN     string
	Table   string
	Columns []string

	// File sinks (csv, parquet, xlsx). Path may carry a compression
	// extension (".gz", ".zst", ".xz") for csv.
	Path string
	// URL makes the csv sink upload its output with HTTP PUT instead of
	// writing Path.
	URL       string
	Delimiter string
	Sheet     string
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds or replaces the factory for kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens a Repository of cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted. The slice is a copy.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
