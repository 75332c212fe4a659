// Package csvfile writes records back out as delimited text, to a local file
// or to an HTTP PUT target (presigned object-store URL). The codec follows
// the file extension: ".gz", ".zst" and ".xz" are compressed on the fly.
package csvfile

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/jwindhaber/async-csv/internal/compression"
	"github.com/jwindhaber/async-csv/internal/datasource/httpds"
	"github.com/jwindhaber/async-csv/internal/storage"
)

// Kind is the storage kind this package registers.
const Kind = "csv"

// newClient is a test hook.
var newClient = func() *httpds.Client { return httpds.NewClient(httpds.Config{MaxRetries: 3}) }

// Repository is a write-once delimited-text sink.
type Repository struct {
	path   string
	url    string
	client *httpds.Client
	codec  compression.Type

	file       *os.File      // local target
	buf        *bytes.Buffer // upload body
	closeCodec func() error
	w          *csv.Writer
	header     bool
	done       bool
}

var (
	_ storage.Repository = (*Repository)(nil)
	_ storage.Flusher    = (*Repository)(nil)
)

// Open creates the target. Exactly one of cfg.Path and cfg.URL must be set.
func Open(cfg storage.Config) (*Repository, error) {
	if (cfg.Path == "") == (cfg.URL == "") {
		return nil, fmt.Errorf("csv: exactly one of path and url is required")
	}
	comma := ','
	if cfg.Delimiter != "" {
		r, n := utf8.DecodeRuneInString(cfg.Delimiter)
		if n != len(cfg.Delimiter) || r == '"' || r == '\r' || r == '\n' {
			return nil, fmt.Errorf("csv: invalid delimiter %q", cfg.Delimiter)
		}
		comma = r
	}

	r := &Repository{path: cfg.Path, url: cfg.URL}
	var sink io.Writer
	if cfg.URL != "" {
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("csv: url: %w", err)
		}
		r.codec = compression.Detect(path.Base(u.Path))
		r.buf = new(bytes.Buffer)
		r.client = newClient()
		sink = r.buf
	} else {
		r.codec = compression.Detect(cfg.Path)
		f, err := os.Create(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		r.file = f
		sink = f
	}
	out, closeCodec, err := compression.NewWriter(sink, r.codec)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("csv: %w", err)
	}
	r.closeCodec = closeCodec
	r.w = csv.NewWriter(out)
	r.w.Comma = comma
	return r, nil
}

// CopyFrom appends rows, writing the header row first.
func (r *Repository) CopyFrom(_ context.Context, columns []string, rows [][]any) (int64, error) {
	if r.done {
		return 0, fmt.Errorf("csv: sink already flushed")
	}
	if !r.header {
		if err := r.w.Write(columns); err != nil {
			return 0, fmt.Errorf("csv: header: %w", err)
		}
		r.header = true
	}
	rec := make([]string, len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return int64(i), fmt.Errorf("csv: row %d has %d values, want %d", i, len(row), len(columns))
		}
		for j, v := range row {
			rec[j] = text(v)
		}
		if err := r.w.Write(rec); err != nil {
			return int64(i), fmt.Errorf("csv: write: %w", err)
		}
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return 0, fmt.Errorf("csv: write: %w", err)
	}
	return int64(len(rows)), nil
}

// Exec is not supported by file sinks.
func (r *Repository) Exec(context.Context, string) error {
	return fmt.Errorf("csv: Exec is not supported")
}

// Flush finishes the codec stream and closes the file or uploads the body.
func (r *Repository) Flush(ctx context.Context, columns []string) error {
	if r.done {
		return nil
	}
	r.done = true
	if !r.header && len(columns) > 0 {
		if err := r.w.Write(columns); err != nil {
			return fmt.Errorf("csv: header: %w", err)
		}
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return fmt.Errorf("csv: write: %w", err)
	}
	if err := r.closeCodec(); err != nil {
		return fmt.Errorf("csv: %s: %w", r.codec, err)
	}
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		if err != nil {
			return fmt.Errorf("csv: close %s: %w", r.path, err)
		}
		return nil
	}
	return r.upload(ctx)
}

func (r *Repository) upload(ctx context.Context) error {
	h := make(http.Header)
	h.Set("Content-Type", "text/csv")
	resp, err := r.client.Put(ctx, r.url, r.buf.Bytes(), h)
	if err != nil {
		return fmt.Errorf("csv: upload: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("csv: upload %s: status %d", redact(r.url), resp.StatusCode)
	}
	return nil
}

// Close releases the file without finishing it when Flush was never called.
func (r *Repository) Close() {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// redact drops the query string, which carries presigned credentials.
func redact(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

func init() {
	storage.Register(Kind, func(_ context.Context, cfg storage.Config) (storage.Repository, error) {
		return Open(cfg)
	})
}
