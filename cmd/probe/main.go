// Command probe samples the head of a CSV source and prints a draft
// async-csv pipeline for it: sniffed dialect, header, normalized column
// names, a key rule and a storage block for the chosen backend.
//
//	probe -source https://example.com/registry.csv.gz -backend postgres > registry.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jwindhaber/async-csv/internal/probe"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("probe: %v", err)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	var (
		source    = fs.String("source", "", "local path, file:// or http(s) URL of the CSV")
		maxBytes  = fs.Int("bytes", probe.DefaultMaxBytes, "number of bytes to sample")
		name      = fs.String("name", "", "dataset name used for table and file names (default: source base name)")
		job       = fs.String("job", "", "job name (default: normalized name)")
		backend   = fs.String("backend", "postgres", "storage kind: postgres|mssql|mysql|sqlite|csv|parquet|xlsx|none")
		delimiter = fs.String("delimiter", "", "force the field delimiter (default: sniff)")
		format    = fs.String("format", "yaml", "output: yaml|json|columns")
		insecure  = fs.Bool("allow-insecure", false, "skip TLS certificate verification")
		timeout   = fs.Duration("timeout", time.Minute, "overall timeout")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *source == "" {
		fs.Usage()
		return fmt.Errorf("missing -source")
	}
	var delim byte
	switch *delimiter {
	case "":
	case "tab", `\t`:
		delim = '\t'
	default:
		if len(*delimiter) != 1 {
			return fmt.Errorf("-delimiter must be a single byte")
		}
		delim = (*delimiter)[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	p, res, err := probe.Probe(ctx, probe.Options{
		Source:           *source,
		MaxBytes:         *maxBytes,
		Delimiter:        delim,
		Name:             *name,
		Job:              *job,
		Backend:          *backend,
		AllowInsecureTLS: *insecure,
	})
	if err != nil {
		return err
	}

	switch *format {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case "columns":
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "# delimiter %q, %d rows sampled, %d skipped\n", res.Dialect.Delimiter, res.Rows, res.Skipped)
		fmt.Fprintln(tw, "header\tname\tempty\tmax_len\tcomplete")
		for _, c := range res.Columns {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\n", c.Header, c.Name, c.Empty, c.MaxLen, c.Complete)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown -format %q", *format)
	}
}
