// Package main wires async-csv end to end: a byte source is split into
// chunks, parsed in parallel, reassembled in order and delivered with
// backpressure to the aggregator and, when configured, a storage sink.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/jwindhaber/async-csv/internal/aggregate"
	"github.com/jwindhaber/async-csv/internal/compression"
	"github.com/jwindhaber/async-csv/internal/config"
	"github.com/jwindhaber/async-csv/internal/datasource"
	"github.com/jwindhaber/async-csv/internal/datasource/file"
	"github.com/jwindhaber/async-csv/internal/datasource/httpds"
	"github.com/jwindhaber/async-csv/internal/datasource/spool"
	"github.com/jwindhaber/async-csv/internal/metrics"
	"github.com/jwindhaber/async-csv/internal/pipeline"
	"github.com/jwindhaber/async-csv/internal/storage"
)

// result is what one run produced.
type result struct {
	Report  aggregate.Report
	Written int64
	Skipped int64
	Stats   pipeline.Stats
}

// Function variables used to introduce test seams.
var (
	runFn = run

	newRepositoryFn = func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return storage.New(ctx, cfg)
	}

	openSourceFn = openSource
)

// run executes one pipeline run. Rows go to the aggregator always and to the
// sink unless storage.kind is "none". The sink owns demand; the aggregator
// observes the same stream as its tap.
func run(ctx context.Context, spec config.Pipeline, runID string) (result, error) {
	var res result
	start := time.Now()
	err := runPipeline(ctx, spec, runID, &res)
	metrics.RecordStep(spec.Job, "run", err, time.Since(start))
	logSummary(spec.Job, runID, res, time.Since(start))
	return res, err
}

func runPipeline(ctx context.Context, spec config.Pipeline, runID string, res *result) error {
	cfg, err := spec.Core()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log.Printf("stream runtime: workers=%d hint=%d queue=%d max_pending=%d timeout=%s batch=%d",
		cfg.Workers, cfg.ChunkHint, cfg.QueueDepth, cfg.MaxPending, cfg.ChunkTimeout, spec.BatchSize())

	src, err := openSourceFn(ctx, spec.Source)
	if err != nil {
		return fmt.Errorf("source open: %w", err)
	}
	defer src.Close()

	p, err := pipeline.New(src, cfg)
	if err != nil {
		return err
	}
	agg, err := aggregate.New(spec.AggregateOptions(runID))
	if err != nil {
		return err
	}

	if spec.Storage.Kind == "none" {
		runErr := p.Run(ctx, agg)
		res.Report, _ = agg.Wait(context.Background())
		res.Stats = p.Stats()
		return errors.Join(runErr, reportErr(res.Report))
	}

	sc := spec.Storage.StorageConfig()
	repo, err := newRepositoryFn(ctx, sc)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	defer repo.Close()

	w := storage.NewWriter(ctx, repo, storage.WriterOptions{
		Job:       cfg.Job,
		Columns:   sc.Columns,
		HasHeader: spec.Parser.HasHeader(),
		BatchSize: spec.BatchSize(),
		Prepare:   prepareFor(spec, repo),
		Tap:       agg,
	})
	runErr := p.Run(ctx, w)
	written, loadErr := w.Wait(context.Background())
	res.Report, _ = agg.Wait(context.Background())
	res.Written, res.Skipped = written, w.Skipped()
	res.Stats = p.Stats()

	if loadErr != nil {
		return fmt.Errorf("load: %w", loadErr)
	}
	return errors.Join(runErr, reportErr(res.Report))
}

// prepareFor creates the target table when the pipeline asks for it.
func prepareFor(spec config.Pipeline, repo storage.Repository) func(context.Context, []string) error {
	kind := spec.Storage.Kind
	if !spec.Storage.DB.AutoCreateTable || !storage.HasDDL(kind) {
		return nil
	}
	table := spec.Storage.DB.Table
	return func(ctx context.Context, columns []string) error {
		log.Printf("ddl: ensuring table=%s columns=%d kind=%s", table, len(columns), kind)
		return storage.EnsureTable(ctx, kind, repo, table, columns)
	}
}

// reportErr surfaces an aggregator failure, e.g. a reducer on a column the
// input does not have.
func reportErr(r aggregate.Report) error {
	if r.Outcome == "failed" && r.Error != "" {
		return errors.New(r.Error)
	}
	return nil
}

// openSource returns a random-access view of the configured input.
// Compressed input is spooled to a temp file first.
func openSource(ctx context.Context, s config.Source) (datasource.RangeSource, error) {
	codec, err := s.Codec()
	if err != nil {
		return nil, err
	}
	opt := spool.Options{Dir: s.SpoolDir, Codec: &codec, Keep: s.KeepSpool}

	switch s.Kind {
	case "file":
		local := file.NewLocal(s.File.Path)
		if codec == compression.None {
			return local.OpenRange(ctx)
		}
		return spool.Spool(ctx, local, s.File.Path, opt)

	case "http":
		ccfg, err := s.HTTP.ClientConfig()
		if err != nil {
			return nil, err
		}
		remote := httpds.NewRemote(httpds.NewClient(ccfg), s.HTTP.URL)
		if codec == compression.None {
			return remote, nil
		}
		// The codec is already resolved; the name only labels the temp file.
		return spool.Spool(ctx, remote, httpds.SafeFilenameFromURL(s.HTTP.URL), opt)

	default:
		return nil, fmt.Errorf("unsupported source.kind=%s", s.Kind)
	}
}

// logSummary prints the end-of-run line and the first error samples.
func logSummary(job, runID string, res result, d time.Duration) {
	r := res.Report
	kinds := make([]string, 0, len(r.Errors))
	for k := range r.Errors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	log.Printf("summary: job=%s run=%s outcome=%s rows=%d rejected=%d written=%d skipped=%d chunks=%d dur=%s",
		job, runID, r.Outcome, r.Rows, r.Rejected, res.Written, res.Skipped,
		res.Stats.Chunks, d.Truncate(time.Millisecond))
	for _, k := range kinds {
		log.Printf("summary: errors kind=%s count=%d", k, r.Errors[k])
	}
	for _, s := range r.Samples {
		log.Printf("summary: sample %s", s)
	}
}

// writeReport writes the JSON report to dest: a path, "-" for stdout, or
// nothing when dest is empty.
func writeReport(dest string, r aggregate.Report) error {
	var out io.Writer
	switch dest {
	case "":
		return nil
	case "-":
		out = os.Stdout
	default:
		f, err := os.Create(dest)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return r.WriteJSON(out)
}
