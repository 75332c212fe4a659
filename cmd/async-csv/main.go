package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jwindhaber/async-csv/internal/config"
	"github.com/jwindhaber/async-csv/internal/metrics"
	"github.com/jwindhaber/async-csv/internal/metrics/datadog"
	"github.com/jwindhaber/async-csv/internal/metrics/prompush"

	// register all backends with the storage factory.
	_ "github.com/jwindhaber/async-csv/internal/storage/all"
)

// main loads the pipeline file, optionally initializes a metrics backend and
// runs the pipeline once.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		statsdAddrFlg     string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/pipelines/sample.yaml", "pipeline config path (.json, .yaml, .yml)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend: pushgateway, datadog or none (env METRICS_BACKEND)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	flag.StringVar(&statsdAddrFlg, "statsd-addr", "", "DogStatsD address (env DD_DOGSTATSD_URL)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	p, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	runID := uuid.NewString()
	flush := setupMetrics(p.Job, runID, metricsBackendFlg, pushGatewayURLFlg, statsdAddrFlg, *verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	start := time.Now()

	if *verbose {
		log.Printf("pipeline: job=%s run=%s source=%s:%s storage=%s",
			p.Job, runID, p.Source.Kind, p.Source.Name(), p.Storage.Kind)
	}

	res, err := runFn(ctx, p, runID)
	stop()
	if werr := writeReport(p.Aggregate.Report, res.Report); werr != nil {
		log.Printf("report: %v", werr)
	}
	flush()
	if err != nil {
		log.Printf("run failed: %v", err)
		os.Exit(1)
	}

	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
}

// setupMetrics installs the selected backend and returns its flush func.
// Flag wins over environment; unknown or failing backends leave metrics off.
func setupMetrics(job, runID, backend, gwURL, statsdAddr string, verbose bool) func() {
	nop := func() {}
	if backend == "" {
		backend = os.Getenv("METRICS_BACKEND")
	}
	if job == "" {
		job = "async_csv"
	}

	switch backend {
	case "pushgateway":
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(job, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return nop
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, backend, job)
		metrics.SetBackend(b.WithRunID(runID))

	case "datadog":
		if statsdAddr == "" {
			statsdAddr = os.Getenv("DD_DOGSTATSD_URL")
		}
		if statsdAddr == "" {
			statsdAddr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       statsdAddr,
			Namespace:  "async_csv.",
			GlobalTags: []string{"job:" + job, "run:" + runID},
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return nop
		}
		log.Printf("metrics: addr=%v, backend=%v, job_name=%v", statsdAddr, backend, job)
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Printf("metrics: flush error: %v", err)
			}
			_ = b.Close()
		}

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backend)
		}
		return nop

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backend)
		return nop
	}

	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
