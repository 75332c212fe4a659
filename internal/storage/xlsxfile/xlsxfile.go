// Package xlsxfile writes records into a single worksheet of an .xlsx
// workbook through excelize's stream writer, so memory stays flat for large
// outputs.
package xlsxfile

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/jwindhaber/async-csv/internal/storage"
)

// Kind is the storage kind this package registers.
const Kind = "xlsx"

const defaultSheet = "Sheet1"

type Repository struct {
	path  string
	sheet string
	f     *excelize.File
	sw    *excelize.StreamWriter
	row   int // last written row, 1-based
	done  bool
}

var (
	_ storage.Repository = (*Repository)(nil)
	_ storage.Flusher    = (*Repository)(nil)
)

// Open prepares an in-progress workbook. Nothing is written to cfg.Path
// until Flush.
func Open(cfg storage.Config) (*Repository, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("xlsx: path is required")
	}
	sheet := cfg.Sheet
	if sheet == "" {
		sheet = defaultSheet
	}
	if utf8.RuneCountInString(sheet) > excelize.MaxSheetNameLength {
		return nil, fmt.Errorf("xlsx: sheet name %q exceeds %d characters", sheet, excelize.MaxSheetNameLength)
	}
	f := excelize.NewFile()
	if sheet != defaultSheet {
		if err := f.SetSheetName(defaultSheet, sheet); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("xlsx: sheet: %w", err)
		}
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("xlsx: stream writer: %w", err)
	}
	return &Repository{path: cfg.Path, sheet: sheet, f: f, sw: sw}, nil
}

func (r *Repository) writeRow(values []interface{}) error {
	if r.row >= excelize.TotalRows {
		return fmt.Errorf("xlsx: sheet %q is full (%d rows)", r.sheet, excelize.TotalRows)
	}
	cell, err := excelize.CoordinatesToCellName(1, r.row+1)
	if err != nil {
		return err
	}
	if err := r.sw.SetRow(cell, values); err != nil {
		return fmt.Errorf("xlsx: row %d: %w", r.row+1, err)
	}
	r.row++
	return nil
}

func (r *Repository) header(columns []string) error {
	vals := make([]interface{}, len(columns))
	for i, c := range columns {
		vals[i] = c
	}
	return r.writeRow(vals)
}

// CopyFrom appends rows below the header row.
func (r *Repository) CopyFrom(_ context.Context, columns []string, rows [][]any) (int64, error) {
	if r.done {
		return 0, fmt.Errorf("xlsx: sink already flushed")
	}
	if r.row == 0 {
		if err := r.header(columns); err != nil {
			return 0, err
		}
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return int64(i), fmt.Errorf("xlsx: row %d has %d values, want %d", i, len(row), len(columns))
		}
		if err := r.writeRow(row); err != nil {
			return int64(i), err
		}
	}
	return int64(len(rows)), nil
}

func (r *Repository) Exec(context.Context, string) error {
	return fmt.Errorf("xlsx: Exec is not supported")
}

// Flush closes the sheet stream and saves the workbook.
func (r *Repository) Flush(_ context.Context, columns []string) error {
	if r.done {
		return nil
	}
	r.done = true
	if r.row == 0 && len(columns) > 0 {
		if err := r.header(columns); err != nil {
			return err
		}
	}
	if err := r.sw.Flush(); err != nil {
		return fmt.Errorf("xlsx: flush: %w", err)
	}
	if err := r.f.SaveAs(r.path); err != nil {
		return fmt.Errorf("xlsx: save %s: %w", r.path, err)
	}
	return nil
}

// Close releases the workbook's temporary files.
func (r *Repository) Close() {
	if r.f != nil {
		_ = r.f.Close()
		r.f = nil
	}
}

func init() {
	storage.Register(Kind, func(_ context.Context, cfg storage.Config) (storage.Repository, error) {
		return Open(cfg)
	})
}
