// Package datasource defines the byte sources the pipeline reads from.
//
// Two shapes exist. Source is a one-shot stream (used when the input must be
// decoded or decompressed front to back). RangeSource is random access and is
// what the chunk scanner and the parser workers read from: every chunk is an
// independent ReadAt, so many workers can read one source concurrently.
package datasource

import (
	"context"
	"fmt"
	"io"
)

// Source opens a sequential stream of bytes.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// RangeSource is a read-only, random-access byte source. Implementations
// must allow concurrent ReadAt calls.
type RangeSource interface {
	// ReadAt reads len(p) bytes starting at off. It follows io.ReaderAt
	// semantics: a short read returns a non-nil error (io.EOF at the end).
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)

	// Size returns the total length of the source in bytes.
	Size(ctx context.Context) (int64, error)

	// Close releases the source.
	Close() error
}

// Bytes is an in-memory RangeSource.
type Bytes []byte

// ReadAt implements RangeSource.
func (b Bytes) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, fmt.Errorf("datasource: negative offset %d", off)
	}
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size implements RangeSource.
func (b Bytes) Size(context.Context) (int64, error) { return int64(len(b)), nil }

// Close implements RangeSource.
func (b Bytes) Close() error { return nil }

