package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jwindhaber/async-csv/internal/chunk"
	"github.com/jwindhaber/async-csv/internal/datasource"
	"github.com/jwindhaber/async-csv/internal/metrics"
	"github.com/jwindhaber/async-csv/internal/parser/csv"
	"github.com/jwindhaber/async-csv/internal/records"
)

// parseFunc parses one chunk. It is a field so tests can slow parsing down.
type parseFunc func(ctx context.Context, c csv.Chunk) ([]records.Record, error)

// pool turns chunks into ParsedChunks. Each worker goroutine runs work.
type pool struct {
	job     string
	src     datasource.RangeSource
	timeout time.Duration
	parse   parseFunc
}

func newPool(job string, src datasource.RangeSource, p *csv.Parser, timeout time.Duration) *pool {
	return &pool{job: job, src: src, timeout: timeout, parse: p.ParseChunk}
}

// work parses chunks from in until in is closed or ctx is done. A worker
// blocks only on receiving its next chunk and on handing the result over.
func (p *pool) work(ctx context.Context, in <-chan chunk.Chunk, out chan<- ParsedChunk) error {
	for {
		var c chunk.Chunk
		var ok bool
		select {
		case c, ok = <-in:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return nil
		}

		pc := p.process(ctx, c)
		select {
		case out <- pc:
		case <-ctx.Done():
			return nil
		}
	}
}

// process parses one chunk. The parse itself is detached from ctx so a
// cancellation never leaves a torn record behind; only the per-chunk
// timeout bounds it.
func (p *pool) process(ctx context.Context, c chunk.Chunk) ParsedChunk {
	start := time.Now()
	if c.Malformed != nil {
		metrics.RecordChunk(p.job, "malformed", 0, 0)
		return ParsedChunk{Seq: c.Seq, Records: []records.Record{{
			Offset: errOffset(c.Malformed, c.Span.Offset),
			Index:  c.FirstRecord,
			Err:    c.Malformed,
		}}}
	}

	data := c.Data
	if data == nil && c.Span.Len > 0 {
		buf := make([]byte, c.Span.Len)
		if _, err := p.src.ReadAt(ctx, buf, c.Span.Offset); err != nil {
			e := records.Wrap(records.SourceFailure, c.Seq, err)
			e.Offset = c.Span.Offset
			return ParsedChunk{Seq: c.Seq, Err: e}
		}
		data = buf
	}
	in := csv.Chunk{Seq: c.Seq, Data: data, Base: c.Span.Offset, First: c.FirstRecord}

	recs, err := p.attempt(ctx, in)
	if errors.Is(err, context.DeadlineExceeded) {
		log.Printf("pool: chunk timeout seq=%d offset=%d bytes=%d after=%s; retrying",
			c.Seq, c.Span.Offset, c.Span.Len, p.timeout)
		metrics.RecordChunk(p.job, "retried", 0, time.Since(start))

		// The retry runs on a fresh goroutine so it does not inherit any
		// state the first attempt left behind.
		type result struct {
			recs []records.Record
			err  error
		}
		done := make(chan result, 1)
		go func() {
			r, e := p.attempt(ctx, in)
			done <- result{r, e}
		}()
		res := <-done
		recs, err = res.recs, res.err
		if errors.Is(err, context.DeadlineExceeded) {
			log.Printf("pool: chunk timeout seq=%d offset=%d records=%d; giving up", c.Seq, c.Span.Offset, c.Records)
			metrics.RecordChunk(p.job, "timeout", 0, time.Since(start))
			return ParsedChunk{Seq: c.Seq, Records: []records.Record{timeoutRecord(c, p.timeout)}}
		}
	}
	if err != nil {
		return ParsedChunk{Seq: c.Seq, Err: records.Wrap(records.Unknown, c.Seq, err)}
	}
	metrics.RecordChunk(p.job, "parsed", c.Span.Len, time.Since(start))
	return ParsedChunk{Seq: c.Seq, Records: recs}
}

func (p *pool) attempt(ctx context.Context, in csv.Chunk) ([]records.Record, error) {
	pctx := context.WithoutCancel(ctx)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(pctx, p.timeout)
		defer cancel()
	}
	return p.parse(pctx, in)
}

func timeoutRecord(c chunk.Chunk, budget time.Duration) records.Record {
	return records.Record{
		Offset: c.Span.Offset,
		Index:  c.FirstRecord,
		Err: &records.Error{
			Kind:   records.ChunkTimeout,
			Seq:    c.Seq,
			Offset: c.Span.Offset,
			Index:  c.FirstRecord,
			Msg:    fmt.Sprintf("parse exceeded %s twice; %d records in %d bytes skipped", budget, c.Records, c.Span.Len),
		},
	}
}

func errOffset(err error, fallback int64) int64 {
	var e *records.Error
	if errors.As(err, &e) && e.Offset >= 0 {
		return e.Offset
	}
	return fallback
}
