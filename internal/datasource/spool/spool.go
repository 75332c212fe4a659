// Package spool turns a one-shot stream into a random-access source.
//
// Compressed inputs (.gz, .bz2, .xz, .zst) cannot be split into chunks
// directly, so they are decompressed front to back into a temp file and the
// pipeline reads that file instead.
package spool

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jwindhaber/async-csv/internal/compression"
	"github.com/jwindhaber/async-csv/internal/datasource"
	"github.com/jwindhaber/async-csv/internal/datasource/file"
)

// Options controls spooling.
type Options struct {
	// Dir is the directory for the temp file. Empty means os.TempDir().
	Dir string
	// Codec forces a codec. When nil the codec is detected from the name.
	Codec *compression.Type
	// Keep leaves the temp file on disk after Close.
	Keep bool
}

// File is a spooled copy of a stream. Close removes the temp file unless
// Options.Keep was set.
type File struct {
	*file.File
	path string
	keep bool
}

var _ datasource.RangeSource = (*File)(nil)

// Path returns the temp file location.
func (f *File) Path() string { return f.path }

// Close closes and removes the temp file.
func (f *File) Close() error {
	err := f.File.Close()
	if !f.keep {
		if rerr := os.Remove(f.path); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = rerr
		}
	}
	return err
}

// Spool reads src to the end, decompressing it according to name (or
// opt.Codec), and returns a random-access view of the plain bytes.
func Spool(ctx context.Context, src datasource.Source, name string, opt Options) (*File, error) {
	codec := compression.Detect(name)
	if opt.Codec != nil {
		codec = *opt.Codec
	}
	dir := opt.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, tempName(name))

	start := time.Now()
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("spool: open %s: %w", name, err)
	}
	defer rc.Close()

	r, closeDec, err := compression.NewReader(&ctxReader{ctx: ctx, r: rc}, codec)
	if err != nil {
		return nil, fmt.Errorf("spool: %s: %w", name, err)
	}
	defer closeDec()

	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("spool: create %s: %w", path, err)
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("spool: copy %s: %w", name, err)
	}

	ra, err := file.NewLocal(path).OpenRange(ctx)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	log.Printf("spool: name=%s codec=%s bytes=%d dur=%s path=%s",
		name, codec, n, time.Since(start).Truncate(time.Millisecond), path)
	return &File{File: ra, path: path, keep: opt.Keep}, nil
}

// tempName derives a readable, collision-free file name from the source name.
func tempName(name string) string {
	base := filepath.Base(compression.StripExtension(name))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, base)
	if base == "" || base == "." || base == "_" {
		base = "source"
	}
	if len(base) > 64 {
		base = base[:64]
	}
	return fmt.Sprintf("async-csv-%s-%s.spool", base, uuid.NewString())
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
