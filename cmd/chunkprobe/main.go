// Command chunkprobe prints the chunk layout the scanner produces for a
// source: sequence number, byte span, record count and the first record of
// each chunk. It is a quick way to check a dialect and a chunk hint against
// real data before running a pipeline.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jwindhaber/async-csv/internal/chunk"
	"github.com/jwindhaber/async-csv/internal/compression"
	"github.com/jwindhaber/async-csv/internal/datasource"
	"github.com/jwindhaber/async-csv/internal/datasource/file"
	"github.com/jwindhaber/async-csv/internal/datasource/httpds"
	"github.com/jwindhaber/async-csv/internal/datasource/spool"
	"github.com/jwindhaber/async-csv/internal/dialect"
	"github.com/jwindhaber/async-csv/internal/parser/csv"
)

var (
	flagSource    = flag.String("source", "", "local path or http(s) URL of the CSV")
	flagList      = flag.String("list", "", "file with one source per line ('#' comments allowed)")
	flagHint      = flag.Int64("hint", chunk.DefaultHint, "chunk hint in bytes")
	flagDelimiter = flag.String("delimiter", ",", "field delimiter (single byte)")
	flagQuote     = flag.String("quote", `"`, "quote byte")
	flagLimit     = flag.Int("limit", 0, "stop after this many chunks (0 = all)")
	flagJSON      = flag.Bool("json", false, "print one JSON object per chunk")
)

// chunkInfo is one output line.
type chunkInfo struct {
	Source      string   `json:"source"`
	Seq         uint64   `json:"seq"`
	Offset      int64    `json:"offset"`
	Len         int64    `json:"len"`
	FirstRecord int64    `json:"first_record"`
	Records     int64    `json:"records"`
	First       []string `json:"first,omitempty"`
	Malformed   string   `json:"malformed,omitempty"`
}

type probeOptions struct {
	Hint    int64
	Dialect dialect.Dialect
	Limit   int
}

// Function variable used as a test seam.
var openFn = open

func main() {
	flag.Parse()

	var sources []string
	if *flagSource != "" {
		sources = append(sources, *flagSource)
	}
	if *flagList != "" {
		list, err := file.ReadList(*flagList)
		if err != nil {
			log.Fatalf("read list: %v", err)
		}
		sources = append(sources, list...)
	}
	if len(sources) == 0 {
		fmt.Fprintln(os.Stderr, "usage: chunkprobe -source <path|url> | -list <file> [-hint N] [-delimiter ,]")
		os.Exit(2)
	}

	d := dialect.Dialect{}
	if len(*flagDelimiter) != 1 || len(*flagQuote) != 1 {
		log.Fatalf("delimiter and quote must be single bytes")
	}
	d.Delimiter, d.Quote = (*flagDelimiter)[0], (*flagQuote)[0]
	opt := probeOptions{Hint: *flagHint, Dialect: d.WithDefaults(), Limit: *flagLimit}
	if err := opt.Dialect.Validate(); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	failed := false
	for _, s := range sources {
		if err := probeSource(ctx, s, opt, os.Stdout, *flagJSON); err != nil {
			log.Printf("chunkprobe: %s: %v", s, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func probeSource(ctx context.Context, name string, opt probeOptions, w io.Writer, asJSON bool) error {
	src, err := openFn(ctx, name)
	if err != nil {
		return err
	}
	defer src.Close()

	infos, err := probe(ctx, name, src, opt)
	if asJSON {
		enc := json.NewEncoder(w)
		for _, ci := range infos {
			if e := enc.Encode(ci); e != nil {
				return e
			}
		}
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "# %s\nseq\toffset\tlen\trecords\tfirst_record\tfirst\n", name)
	for _, ci := range infos {
		first := strings.Join(ci.First, " | ")
		if ci.Malformed != "" {
			first = "MALFORMED: " + ci.Malformed
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%s\n", ci.Seq, ci.Offset, ci.Len, ci.Records, ci.FirstRecord, preview(first, 80))
	}
	if ferr := tw.Flush(); err == nil {
		err = ferr
	}
	return err
}

// probe scans src and describes each chunk.
func probe(ctx context.Context, name string, src datasource.RangeSource, opt probeOptions) ([]chunkInfo, error) {
	p, err := csv.NewParser(csv.Options{Dialect: opt.Dialect})
	if err != nil {
		return nil, err
	}
	sc := chunk.NewScanner(src, opt.Dialect, chunk.Options{Hint: opt.Hint})
	var out []chunkInfo
	for opt.Limit <= 0 || len(out) < opt.Limit {
		c, err := sc.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, err
		}
		ci := chunkInfo{
			Source:      name,
			Seq:         c.Seq,
			Offset:      c.Span.Offset,
			Len:         c.Span.Len,
			FirstRecord: c.FirstRecord,
			Records:     c.Records,
		}
		if c.Malformed != nil {
			ci.Malformed = c.Malformed.Error()
		} else if recs, err := p.ParseChunk(ctx, csv.Chunk{Seq: c.Seq, Data: c.Data, Base: c.Span.Offset, First: c.FirstRecord}); err == nil && len(recs) > 0 {
			ci.First = recs[0].Fields
		}
		out = append(out, ci)
	}
	return out, nil
}

// open returns a random-access view of a local path or an http(s) URL.
// Compressed sources are spooled first.
func open(ctx context.Context, name string) (datasource.RangeSource, error) {
	remote := strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://")
	base := name
	if i := strings.IndexByte(base, '?'); remote && i >= 0 {
		base = base[:i]
	}
	codec := compression.Detect(base)

	if remote {
		r := httpds.NewRemote(httpds.NewClient(httpds.Config{MaxRetries: 3}), name)
		if codec == compression.None {
			return r, nil
		}
		return spooled(spool.Spool(ctx, r, base, spool.Options{}))
	}
	local := file.NewLocal(name)
	if codec == compression.None {
		f, err := local.OpenRange(ctx)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return spooled(spool.Spool(ctx, local, name, spool.Options{}))
}

func spooled(f *spool.File, err error) (datasource.RangeSource, error) {
	if err != nil {
		return nil, err
	}
	return f, nil
}

func preview(s string, n int) string {
	s = strings.NewReplacer("\n", `\n`, "\r", `\r`, "\t", `\t`).Replace(s)
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "…"
	}
	return s
}
