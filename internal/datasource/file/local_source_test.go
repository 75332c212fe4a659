package file

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// TestLocalOpen covers success, missing file, and pre-canceled context.
// Table-driven to make behavior clear and extensible.
func TestLocalOpen(t *testing.T) {
	t.Parallel()

	type tc struct {
		name            string
		prepare         func(t *testing.T) string // returns path to open
		makeCtx         func(t *testing.T) context.Context
		wantErrIs       error  // checked via errors.Is
		wantErrContains string // substring expected in error message
		wantContent     string // if non-empty, verifies read content on success
	}

	cases := []tc{
		{
			name: "success_reads_content",
			prepare: func(t *testing.T) string {
				t.Helper()
				dir := t.TempDir()
				p := filepath.Join(dir, "data.txt")
				const payload = "hello\nworld"
				if err := os.WriteFile(p, []byte(payload), 0o644); err != nil {
					t.Fatalf("write test file: %v", err)
				}
				return p
			},
			makeCtx:     func(t *testing.T) context.Context { return context.Background() },
			wantContent: "hello\nworld",
		},
		{
			name: "missing_file_errors_with_wrapping",
			prepare: func(t *testing.T) string {
				t.Helper()
				return filepath.Join(t.TempDir(), "missing.txt")
			},
			makeCtx:         func(t *testing.T) context.Context { return context.Background() },
			wantErrIs:       os.ErrNotExist,
			wantErrContains: "open ",
		},
		{
			name: "pre_canceled_context_short_circuits",
			prepare: func(t *testing.T) string {
				t.Helper()
				dir := t.TempDir()
				p := filepath.Join(dir, "data.txt")
				if err := os.WriteFile(p, []byte("ignored"), 0o644); err != nil {
					t.Fatalf("write test file: %v", err)
				}
				return p
			},
			makeCtx: func(t *testing.T) context.Context {
				t.Helper()
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			wantErrIs: context.Canceled,
		},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			path := c.prepare(t)
			ctx := c.makeCtx(t)

			rc, err := NewLocal(path).Open(ctx)

			// Error expectations.
			if c.wantErrIs != nil {
				if err == nil {
					t.Fatalf("expected error %v, got nil", c.wantErrIs)
				}
				if !errors.Is(err, c.wantErrIs) {
					t.Fatalf("errors.Is(%v, %v) = false", err, c.wantErrIs)
				}
				if c.wantErrContains != "" && !strings.Contains(err.Error(), c.wantErrContains) {
					t.Fatalf("error %q does not contain substring %q", err, c.wantErrContains)
				}
				// Ensure no ReadCloser was returned on error.
				if rc != nil {
					_ = rc.Close()
					t.Fatalf("got non-nil ReadCloser on error: %T", rc)
				}
				return
			}

			// Success expectations.
			if err != nil {
				t.Fatalf("Open() unexpected error: %v", err)
			}
			defer rc.Close()

			if c.wantContent != "" {
				got, rerr := io.ReadAll(rc)
				if rerr != nil {
					t.Fatalf("reading: %v", rerr)
				}
				if string(got) != c.wantContent {
					t.Fatalf("content mismatch: got %q, want %q", string(got), c.wantContent)
				}
			}
		})
	}
}

// TestLocalOpenRange covers concurrent random reads, size reporting and the
// directory / missing-file error paths of the range source.
func TestLocalOpenRange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "data.csv")
	const payload = "id,name\n1,alpha\n2,beta\n"
	if err := os.WriteFile(p, []byte(payload), 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	src, err := NewLocal(p).OpenRange(context.Background())
	if err != nil {
		t.Fatalf("OpenRange() unexpected error: %v", err)
	}
	defer src.Close()

	size, err := src.Size(context.Background())
	if err != nil || size != int64(len(payload)) {
		t.Fatalf("Size() = %d, %v; want %d, nil", size, err, len(payload))
	}

	var wg sync.WaitGroup
	for _, off := range []int64{0, 8, 16} {
		off := off
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 8)
			n, err := src.ReadAt(context.Background(), buf, off)
			if err != nil && !errors.Is(err, io.EOF) {
				t.Errorf("ReadAt(%d) error: %v", off, err)
				return
			}
			if got, want := string(buf[:n]), payload[off:off+int64(n)]; got != want {
				t.Errorf("ReadAt(%d) = %q, want %q", off, got, want)
			}
		}()
	}
	wg.Wait()

	// Reading past the end reports io.EOF with a short count.
	buf := make([]byte, 16)
	n, err := src.ReadAt(context.Background(), buf, size-4)
	if n != 4 || !errors.Is(err, io.EOF) {
		t.Fatalf("ReadAt(tail) = %d, %v; want 4, io.EOF", n, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.ReadAt(ctx, buf, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("ReadAt(canceled ctx) error = %v, want context.Canceled", err)
	}

	if _, err := NewLocal(dir).OpenRange(context.Background()); err == nil {
		t.Fatalf("OpenRange(dir) error = nil, want non-nil")
	}
	if _, err := NewLocal(filepath.Join(dir, "missing.csv")).OpenRange(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("OpenRange(missing) error = %v, want os.ErrNotExist", err)
	}
}

// BenchmarkOpenRangeReadAt measures a chunk-sized positional read.
func BenchmarkOpenRangeReadAt(b *testing.B) {
	dir := b.TempDir()
	p := filepath.Join(dir, "data.csv")
	payload := []byte(strings.Repeat("1,alpha,beta\n", 1<<14))
	if err := os.WriteFile(p, payload, 0o644); err != nil {
		b.Fatalf("write test file: %v", err)
	}
	src, err := NewLocal(p).OpenRange(context.Background())
	if err != nil {
		b.Fatal(err)
	}
	defer src.Close()

	buf := make([]byte, 64<<10)
	ctx := context.Background()
	b.SetBytes(int64(len(buf)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := src.ReadAt(ctx, buf, 0); err != nil && !errors.Is(err, io.EOF) {
			b.Fatal(err)
		}
	}
}
