// Package file implements local filesystem-backed data sources.
package file

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jwindhaber/async-csv/internal/datasource"
)

// Local is a filesystem data source bound to a path.
type Local struct{ path string }

// NewLocal returns a new Local data source bound to the provided filesystem
// path.
func NewLocal(path string) *Local { return &Local{path: path} }

// Path returns the bound path.
func (l *Local) Path() string { return l.path }

// Open opens the configured path for sequential reading.
//
// Behavior:
//   - If ctx is already done, Open returns the context error without touching
//     the filesystem.
//   - Filesystem errors are wrapped with the path while still permitting
//     errors.Is checks (e.g. errors.Is(err, os.ErrNotExist)).
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	return f, nil
}

// OpenRange opens the path for concurrent random access. The kernel is told
// that the file will be read soon and mostly in order, which keeps chunk
// reads from several workers hitting the page cache.
func (l *Local) OpenRange(ctx context.Context) (*File, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", l.path, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("open %s: is a directory", l.path)
	}
	adviseSequential(f)
	return &File{f: f, size: st.Size()}, nil
}

// File is a RangeSource over an open local file.
type File struct {
	f    *os.File
	size int64
}

var _ datasource.RangeSource = (*File)(nil)

// ReadAt implements datasource.RangeSource. os.File.ReadAt is safe for
// concurrent use.
func (r *File) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.f.ReadAt(p, off)
}

// Size implements datasource.RangeSource.
func (r *File) Size(context.Context) (int64, error) { return r.size, nil }

// Close implements datasource.RangeSource.
func (r *File) Close() error { return r.f.Close() }
