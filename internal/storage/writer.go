package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jwindhaber/async-csv/internal/metrics"
	"github.com/jwindhaber/async-csv/internal/pipeline"
	"github.com/jwindhaber/async-csv/internal/records"
)

// DefaultBatchSize is the Writer batch size when none is configured.
const DefaultBatchSize = 1000

// WriterOptions configures a Writer.
type WriterOptions struct {
	// Job labels metrics.
	Job string
	// Columns names the target columns. Empty: taken from the header when
	// HasHeader, else col_0..col_n-1 from the first record.
	Columns []string
	// HasHeader skips the first clean record.
	HasHeader bool
	BatchSize int
	// Prepare runs once, when the columns are known and before the first
	// batch. It typically creates the target table.
	Prepare func(ctx context.Context, columns []string) error
	// Tap receives every record and the end of the stream after the Writer.
	// It is never subscribed; demand belongs to the Writer.
	Tap pipeline.Subscriber
}

// Writer is a pipeline.Subscriber that loads clean records into a Repository.
// It grants demand one batch at a time and replenishes it only after the
// batch was copied, so a slow sink slows the parser down.
type Writer struct {
	ctx  context.Context
	repo Repository
	opt  WriterOptions

	sub        pipeline.Subscription
	columns    []string
	headerSeen bool
	started    bool
	ended      bool
	rows       chan []any
	done       chan struct{}
	failed     atomic.Bool
	skipped    atomic.Int64

	mu        sync.Mutex
	written   int64
	loadErr   error
	streamErr error
}

var _ pipeline.Subscriber = (*Writer)(nil)

// NewWriter returns a Writer loading into repo. ctx bounds every copy.
func NewWriter(ctx context.Context, repo Repository, opt WriterOptions) *Writer {
	if opt.BatchSize <= 0 {
		opt.BatchSize = DefaultBatchSize
	}
	if opt.Job == "" {
		opt.Job = "async-csv"
	}
	return &Writer{
		ctx:     ctx,
		repo:    repo,
		opt:     opt,
		columns: append([]string(nil), opt.Columns...),
		rows:    make(chan []any, opt.BatchSize),
		done:    make(chan struct{}),
	}
}

// OnSubscribe grants the first batch of demand.
func (w *Writer) OnSubscribe(s pipeline.Subscription) {
	w.sub = s
	s.Request(int64(w.opt.BatchSize))
}

// OnRecord queues a clean record for the next batch. Tagged records, the
// header and records of the wrong width are not written; their demand is
// returned at once.
func (w *Writer) OnRecord(r records.Record) {
	if w.opt.Tap != nil {
		w.opt.Tap.OnRecord(r)
	}
	if w.failed.Load() || w.ended {
		return
	}
	if r.Err != nil {
		w.grant(1)
		return
	}
	if w.opt.HasHeader && !w.headerSeen {
		w.headerSeen = true
		if len(w.columns) == 0 {
			w.columns = ColumnNames(r.Fields)
		}
		w.grant(1)
		return
	}
	if !w.started {
		if len(w.columns) == 0 {
			w.columns = ColumnNames(make([]string, len(r.Fields)))
		}
		if !w.start() {
			return
		}
	}
	if len(r.Fields) != len(w.columns) {
		w.skipped.Add(1)
		w.grant(1)
		return
	}
	row := make([]any, len(r.Fields))
	for i, f := range r.Fields {
		row[i] = f
	}
	select {
	case w.rows <- row:
	case <-w.done:
	}
}

// OnError flushes what was queued and records err.
func (w *Writer) OnError(err error) {
	w.end(err)
	if w.opt.Tap != nil {
		w.opt.Tap.OnError(err)
	}
}

// OnComplete flushes the last batch.
func (w *Writer) OnComplete() {
	w.end(nil)
	if w.opt.Tap != nil {
		w.opt.Tap.OnComplete()
	}
}

// Done is closed once the last batch was copied.
func (w *Writer) Done() <-chan struct{} { return w.done }

// Wait returns the number of rows written and the first copy or stream
// error.
func (w *Writer) Wait(ctx context.Context) (int64, error) {
	select {
	case <-w.done:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written, errors.Join(w.loadErr, w.streamErr)
}

// Skipped returns the number of clean records dropped for their width.
func (w *Writer) Skipped() int64 { return w.skipped.Load() }

// Columns returns the target columns, once known.
func (w *Writer) Columns() []string { return append([]string(nil), w.columns...) }

func (w *Writer) grant(n int64) {
	if w.sub != nil {
		w.sub.Request(n)
	}
}

func (w *Writer) start() bool {
	w.started = true
	if w.opt.Prepare != nil {
		if err := w.opt.Prepare(w.ctx, w.columns); err != nil {
			w.fail(fmt.Errorf("storage: prepare: %w", err))
			close(w.done)
			return false
		}
	}
	cols := w.columns
	go func() {
		defer close(w.done)
		n, err := LoadBatches(w.ctx, cols, w.rows, w.opt.BatchSize, w.copy)
		if f, ok := w.repo.(Flusher); ok && err == nil {
			err = f.Flush(w.ctx, cols)
		}
		w.mu.Lock()
		w.written = n
		w.mu.Unlock()
		if err != nil {
			w.fail(err)
		}
	}()
	return true
}

func (w *Writer) copy(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	n, err := w.repo.CopyFrom(ctx, columns, rows)
	if err != nil {
		return n, err
	}
	metrics.RecordBatches(w.opt.Job, 1)
	metrics.RecordRow(w.opt.Job, "written", n)
	w.grant(int64(len(rows)))
	return n, nil
}

func (w *Writer) fail(err error) {
	w.mu.Lock()
	if w.loadErr == nil {
		w.loadErr = err
	}
	w.mu.Unlock()
	w.failed.Store(true)
	if w.sub != nil {
		w.sub.Cancel()
	}
}

func (w *Writer) end(err error) {
	if w.ended {
		return
	}
	w.ended = true
	w.mu.Lock()
	w.streamErr = err
	w.mu.Unlock()
	if !w.started && len(w.columns) > 0 && !w.failed.Load() {
		// Header only: still create the target.
		if !w.start() {
			return
		}
	}
	if !w.started {
		close(w.done)
		return
	}
	close(w.rows)
	<-w.done
}

// ColumnNames turns header cells into unique column names: white space runs
// become "_", empty cells become col_<i> and repeats get a _<n> suffix.
func ColumnNames(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.Join(strings.Fields(h), "_")
		if name == "" {
			name = "col_" + strconv.Itoa(i)
		}
		key := strings.ToLower(name)
		if n := seen[key]; n > 0 {
			seen[key] = n + 1
			name += "_" + strconv.Itoa(n+1)
			key = strings.ToLower(name)
		}
		seen[key]++
		out[i] = name
	}
	return out
}
