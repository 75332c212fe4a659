// Package parquetfile writes records into a Parquet file with one UTF-8
// column per output column. Each CopyFrom batch becomes one row group.
package parquetfile

import (
	"context"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"

	"github.com/jwindhaber/async-csv/internal/storage"
)

// Kind is the storage kind this package registers.
const Kind = "parquet"

type Repository struct {
	path string
	mem  memory.Allocator

	file   *os.File
	schema *arrow.Schema
	fw     *pqarrow.FileWriter
	rb     *array.RecordBuilder
	done   bool
}

var (
	_ storage.Repository = (*Repository)(nil)
	_ storage.Flusher    = (*Repository)(nil)
)

// Open creates the target file. The schema is fixed by the first batch.
func Open(cfg storage.Config) (*Repository, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("parquet: path is required")
	}
	f, err := os.Create(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}
	return &Repository{path: cfg.Path, mem: memory.NewGoAllocator(), file: f}, nil
}

func (r *Repository) open(columns []string) error {
	fields := make([]arrow.Field, len(columns))
	for i, c := range columns {
		fields[i] = arrow.Field{Name: c, Type: arrow.BinaryTypes.String, Nullable: true}
	}
	r.schema = arrow.NewSchema(fields, nil)
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(r.schema, r.file, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("parquet: writer: %w", err)
	}
	r.fw = fw
	r.rb = array.NewRecordBuilder(r.mem, r.schema)
	return nil
}

// CopyFrom writes rows as one record batch. nil values become nulls.
func (r *Repository) CopyFrom(_ context.Context, columns []string, rows [][]any) (int64, error) {
	if r.done {
		return 0, fmt.Errorf("parquet: sink already flushed")
	}
	if r.fw == nil {
		if err := r.open(columns); err != nil {
			return 0, err
		}
	}
	if len(columns) != r.schema.NumFields() {
		return 0, fmt.Errorf("parquet: %d columns, schema has %d", len(columns), r.schema.NumFields())
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("parquet: row %d has %d values, want %d", i, len(row), len(columns))
		}
	}
	for _, row := range rows {
		for j, v := range row {
			b := r.rb.Field(j).(*array.StringBuilder)
			switch t := v.(type) {
			case nil:
				b.AppendNull()
			case string:
				b.Append(t)
			default:
				b.Append(fmt.Sprint(t))
			}
		}
	}
	rec := r.rb.NewRecord()
	defer rec.Release()
	if err := r.fw.Write(rec); err != nil {
		return 0, fmt.Errorf("parquet: write: %w", err)
	}
	return int64(len(rows)), nil
}

func (r *Repository) Exec(context.Context, string) error {
	return fmt.Errorf("parquet: Exec is not supported")
}

// Flush writes the footer and closes the file. A run without rows still
// produces a valid file carrying the column schema.
func (r *Repository) Flush(_ context.Context, columns []string) error {
	if r.done {
		return nil
	}
	r.done = true
	if r.fw == nil {
		if err := r.open(columns); err != nil {
			return err
		}
	}
	r.rb.Release()
	err := r.fw.Close()
	r.file = nil
	if err != nil {
		return fmt.Errorf("parquet: close %s: %w", r.path, err)
	}
	return nil
}

// Close releases the file when Flush was never reached.
func (r *Repository) Close() {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
}

func init() {
	storage.Register(Kind, func(_ context.Context, cfg storage.Config) (storage.Repository, error) {
		return Open(cfg)
	})
}
