// Package discard is a sink that only counts rows. It backs dry runs and
// throughput measurements of the parse path.
package discard

import (
	"context"
	"sync/atomic"

	"github.com/jwindhaber/async-csv/internal/storage"
)

const Kind = "discard"

type Repository struct {
	rows  atomic.Int64
	execs atomic.Int64
}

func New() *Repository { return &Repository{} }

func (r *Repository) CopyFrom(_ context.Context, _ []string, rows [][]any) (int64, error) {
	r.rows.Add(int64(len(rows)))
	return int64(len(rows)), nil
}

func (r *Repository) Exec(context.Context, string) error {
	r.execs.Add(1)
	return nil
}

func (r *Repository) Close() {}

// Rows reports how many rows were accepted.
func (r *Repository) Rows() int64 { return r.rows.Load() }

func init() {
	storage.Register(Kind, func(context.Context, storage.Config) (storage.Repository, error) {
		return New(), nil
	})
}
