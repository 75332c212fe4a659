// Package pipeline parses a delimited-text source on several cores and
// delivers the records in source order to a demand-driven subscriber.
//
// A scanner goroutine cuts the source into record-aligned chunks and feeds a
// bounded dispatch queue. A pool of workers parses chunks independently.
// Results arrive out of order at a single delivery loop, which runs on the
// caller's goroutine: it reorders them (the reassembler) and hands records to
// the subscriber only while the subscriber has granted demand (the bridge).
//
// Memory is bounded at every stage. The dispatch queue holds QueueDepth
// chunks; the scanner must take a reorder-window slot before dispatching a
// chunk, and the slot is given back only when the reassembler emits that
// chunk, so at most MaxPending parsed chunks can wait out of order. When the
// subscriber stops requesting, the window fills and the scanner stops.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jwindhaber/async-csv/internal/chunk"
	"github.com/jwindhaber/async-csv/internal/datasource"
	"github.com/jwindhaber/async-csv/internal/metrics"
	"github.com/jwindhaber/async-csv/internal/parser/csv"
	"github.com/jwindhaber/async-csv/internal/records"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pipeline is a single-use run over one source.
type Pipeline struct {
	cfg    Config
	src    datasource.RangeSource
	parser *csv.Parser
	parse  parseFunc // overrides parser.ParseChunk in tests

	ran     atomic.Bool
	state   atomic.Int32
	stalled atomic.Bool

	mu    sync.Mutex
	stats Stats
}

// Stats summarises a finished run.
type Stats struct {
	Chunks    uint64        // chunks produced by the scanner
	Delivered int64         // elements handed to OnRecord
	Tagged    int64         // delivered elements with a non-nil Err
	Stalls    int64         // suspensions that outlasted StallAfter
	MaxHeld   int           // peak size of the reorder holding area
	Elapsed   time.Duration // wall time of Run
}

// New validates cfg and binds a pipeline to src. The source is not closed
// by the pipeline.
func New(src datasource.RangeSource, cfg Config) (*Pipeline, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := csv.NewParser(cfg.Parser)
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, src: src, parser: p}, nil
}

// Config returns the resolved configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// State returns the current delivery state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Stalled reports whether delivery is currently suspended on demand for
// longer than StallAfter.
func (p *Pipeline) Stalled() bool { return p.stalled.Load() }

// Stats returns the statistics of the last run. It is complete once Run
// has returned.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run streams the source to sub and returns when the stream has ended. The
// returned error is the one passed to sub.OnError, or nil after OnComplete.
//
// Cancelling ctx stops the run like a fatal error: sub.OnError receives
// ctx.Err(). Subscription.Cancel is the subscriber's way to stop early and
// is acknowledged with OnComplete.
func (p *Pipeline) Run(ctx context.Context, sub Subscriber) error {
	if !p.ran.CompareAndSwap(false, true) {
		return errors.New("pipeline: Run may only be called once")
	}
	cfg := p.cfg

	prodCtx, cancelProd := context.WithCancel(ctx)
	defer cancelProd()
	g, gctx := errgroup.WithContext(prodCtx)

	dispatch := make(chan chunk.Chunk, cfg.QueueDepth)
	results := make(chan ParsedChunk, cfg.Workers)
	window := semaphore.NewWeighted(int64(cfg.MaxPending + 1))

	var total atomic.Int64
	total.Store(-1)
	g.Go(func() error { return p.scan(gctx, dispatch, window, &total) })

	pl := newPool(cfg.Job, p.src, p.parser, cfg.ChunkTimeout)
	if p.parse != nil {
		pl.parse = p.parse
	}
	for range cfg.Workers {
		g.Go(func() error { return pl.work(gctx, dispatch, results) })
	}

	d := &delivery{
		p:          p,
		sub:        sub,
		s:          newSubscription(),
		re:         newReassembler(cfg.MaxPending),
		window:     window,
		results:    results,
		total:      &total,
		cancelProd: cancelProd,
		start:      time.Now(),
	}
	go func() {
		d.prodErr = g.Wait()
		close(results)
	}()

	log.Printf("pipeline: job=%s start workers=%d hint=%d queue=%d max_pending=%d timeout=%s",
		cfg.Job, cfg.Workers, cfg.ChunkHint, cfg.QueueDepth, cfg.MaxPending, cfg.ChunkTimeout)
	sub.OnSubscribe(d.s)
	return d.run(ctx)
}

// scan is the producer goroutine. It stops quietly when ctx ends; only
// source failures are returned.
func (p *Pipeline) scan(ctx context.Context, out chan<- chunk.Chunk, window *semaphore.Weighted, total *atomic.Int64) error {
	defer close(out)
	sc := chunk.NewScanner(p.src, p.cfg.Parser.Dialect, chunk.Options{
		Hint:     p.cfg.ChunkHint,
		ReadSize: p.cfg.ReadSize,
	})
	for {
		if err := window.Acquire(ctx, 1); err != nil {
			return nil
		}
		c, err := sc.Next(ctx)
		if err != nil {
			window.Release(1)
			if errors.Is(err, io.EOF) {
				total.Store(int64(sc.Seq()))
				log.Printf("pipeline: job=%s scan done chunks=%d records=%d bytes=%d",
					p.cfg.Job, sc.Seq(), sc.Record(), sc.Offset())
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return nil
		}
	}
}

// delivery is the single-threaded reassembly and delivery loop.
type delivery struct {
	p          *Pipeline
	sub        Subscriber
	s          *subscription
	re         *reassembler
	window     *semaphore.Weighted
	results    chan ParsedChunk
	total      *atomic.Int64
	prodErr    error // written before results is closed
	cancelProd context.CancelFunc
	start      time.Time

	queue []records.Record // records of the chunk being delivered
	qi    int

	delivered int64
	tagged    int64
	stalls    int64
	maxHeld   int

	stallTimer *time.Timer
}

func (d *delivery) run(ctx context.Context) error {
	results := d.results
	defer d.clearStall()

	for {
		for d.qi < len(d.queue) && !d.s.isCancelled() && d.s.take() {
			d.clearStall()
			d.p.state.Store(int32(Delivering))
			rec := d.queue[d.qi]
			d.queue[d.qi] = records.Record{}
			d.qi++
			d.emit(rec)
		}
		if d.s.isCancelled() {
			return d.finish(nil, "cancelled")
		}

		if d.qi == len(d.queue) {
			if pc, ok := d.re.pop(); ok {
				d.window.Release(1)
				d.queue, d.qi = pc.Records, 0
				continue
			}
			d.queue, d.qi = nil, 0
			if results == nil {
				return d.end(ctx)
			}
		}

		var stallC <-chan time.Time
		if d.qi < len(d.queue) {
			d.p.state.Store(int32(Suspended))
			if d.stallTimer == nil {
				d.stallTimer = time.NewTimer(d.p.cfg.StallAfter)
			}
			if !d.p.stalled.Load() {
				stallC = d.stallTimer.C
			}
		} else {
			d.p.state.Store(int32(Idle))
			d.clearStall()
		}

		select {
		case pc, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if pc.Err != nil {
				return d.finish(pc.Err, "failed")
			}
			if err := d.re.add(pc); err != nil {
				return d.finish(err, "failed")
			}
			d.maxHeld = max(d.maxHeld, d.re.pending())
		case <-d.s.wake:
		case <-d.s.cancelled:
		case <-ctx.Done():
			return d.finish(ctx.Err(), "aborted")
		case <-stallC:
			d.stalls++
			d.p.stalled.Store(true)
			metrics.RecordStall(d.p.cfg.Job)
			log.Printf("pipeline: job=%s stalled waiting for demand for %s delivered=%d ready=%d held=%d",
				d.p.cfg.Job, d.p.cfg.StallAfter, d.delivered, len(d.queue)-d.qi, d.re.pending())
		}
	}
}

// end decides the terminal signal once no more chunks can arrive and
// nothing is left to deliver.
func (d *delivery) end(ctx context.Context) error {
	if d.prodErr != nil {
		return d.finish(d.prodErr, "failed")
	}
	total := d.total.Load()
	if total < 0 {
		// Producers stopped without reaching the end of the source.
		if err := ctx.Err(); err != nil {
			return d.finish(err, "aborted")
		}
		return d.finish(d.re.gap(uint64(d.re.next)), "failed")
	}
	if !d.re.drained(uint64(total)) {
		if err := ctx.Err(); err != nil {
			return d.finish(err, "aborted")
		}
		return d.finish(d.re.gap(uint64(total)), "failed")
	}
	return d.finish(nil, "completed")
}

func (d *delivery) emit(rec records.Record) {
	d.sub.OnRecord(rec)
	d.delivered++
	if rec.Err != nil {
		d.tagged++
		metrics.RecordRow(d.p.cfg.Job, records.KindOf(rec.Err).String(), 1)
	}
	if n := d.p.cfg.HeartbeatEvery; n > 0 && d.delivered%n == 0 {
		log.Printf("pipeline: job=%s delivered=%d tagged=%d next_chunk=%d held=%d elapsed=%s",
			d.p.cfg.Job, d.delivered, d.tagged, d.re.next, d.re.pending(), time.Since(d.start).Truncate(time.Millisecond))
	}
}

func (d *delivery) clearStall() {
	if d.stallTimer != nil {
		d.stallTimer.Stop()
		d.stallTimer = nil
	}
	d.p.stalled.Store(false)
}

// finish stops the producers, waits for in-flight parses to hand back their
// results, and sends the single terminal signal.
func (d *delivery) finish(err error, outcome string) error {
	d.cancelProd()
	for range d.results {
	}
	d.p.state.Store(int32(Idle))
	d.clearStall()

	elapsed := time.Since(d.start)
	chunks := d.re.next
	if t := d.total.Load(); t >= 0 {
		chunks = uint64(t)
	}
	d.p.mu.Lock()
	d.p.stats = Stats{
		Chunks:    chunks,
		Delivered: d.delivered,
		Tagged:    d.tagged,
		Stalls:    d.stalls,
		MaxHeld:   d.maxHeld,
		Elapsed:   elapsed,
	}
	d.p.mu.Unlock()

	metrics.RecordRow(d.p.cfg.Job, "delivered", d.delivered)
	metrics.RecordStep(d.p.cfg.Job, "pipeline", err, elapsed)

	rate := 0.0
	if s := elapsed.Seconds(); s > 0 {
		rate = float64(d.delivered) / s
	}
	log.Printf("pipeline: job=%s %s chunks=%d delivered=%d tagged=%d stalls=%d max_held=%d elapsed=%s rate=%.0f rec/s",
		d.p.cfg.Job, outcome, chunks, d.delivered, d.tagged, d.stalls, d.maxHeld, elapsed.Truncate(time.Millisecond), rate)

	if err != nil {
		d.sub.OnError(err)
		return err
	}
	d.sub.OnComplete()
	return nil
}
