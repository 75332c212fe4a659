// Package compression maps file extensions to stream codecs. It is used on
// the read side to spool compressed inputs into a random-access temp file and
// on the write side by the file sinks.
package compression

import (
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Type is a compression codec.
type Type int

const (
	None Type = iota
	GZ
	BZ2
	XZ
	ZSTD
)

// String returns the codec name.
func (t Type) String() string {
	switch t {
	case GZ:
		return "gz"
	case BZ2:
		return "bz2"
	case XZ:
		return "xz"
	case ZSTD:
		return "zstd"
	default:
		return "none"
	}
}

// Extension returns the file extension, including the dot, or "" for None.
func (t Type) Extension() string {
	switch t {
	case GZ:
		return ".gz"
	case BZ2:
		return ".bz2"
	case XZ:
		return ".xz"
	case ZSTD:
		return ".zst"
	default:
		return ""
	}
}

// Detect returns the codec implied by the extension of name.
func Detect(name string) Type {
	name = strings.ToLower(name)
	switch {
	case strings.HasSuffix(name, ".gz"), strings.HasSuffix(name, ".gzip"):
		return GZ
	case strings.HasSuffix(name, ".bz2"):
		return BZ2
	case strings.HasSuffix(name, ".xz"):
		return XZ
	case strings.HasSuffix(name, ".zst"), strings.HasSuffix(name, ".zstd"):
		return ZSTD
	default:
		return None
	}
}

// Parse maps a configured codec name ("gz", "zstd", ...) to a Type.
func Parse(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return None, nil
	case "gz", "gzip":
		return GZ, nil
	case "bz2", "bzip2":
		return BZ2, nil
	case "xz":
		return XZ, nil
	case "zst", "zstd":
		return ZSTD, nil
	}
	return None, fmt.Errorf("compression: unknown codec %q", name)
}

// StripExtension removes the codec extension from name, if any.
func StripExtension(name string) string {
	t := Detect(name)
	if t == None {
		return name
	}
	lower := strings.ToLower(name)
	for _, ext := range []string{".gzip", ".gz", ".bz2", ".xz", ".zstd", ".zst"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// NewReader wraps r with a decompressing reader. The returned close function
// releases decoder resources; it does not close r.
func NewReader(r io.Reader, t Type) (io.Reader, func() error, error) {
	switch t {
	case None:
		return r, func() error { return nil }, nil
	case GZ:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("compression: gzip reader: %w", err)
		}
		return gz, gz.Close, nil
	case BZ2:
		return bzip2.NewReader(r), func() error { return nil }, nil
	case XZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("compression: xz reader: %w", err)
		}
		return xr, func() error { return nil }, nil
	case ZSTD:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("compression: zstd reader: %w", err)
		}
		return dec, func() error {
			dec.Close()
			return nil
		}, nil
	}
	return nil, nil, fmt.Errorf("compression: unsupported codec %v", t)
}

// NewWriter wraps w with a compressing writer. The returned close function
// flushes the codec; it does not close w.
func NewWriter(w io.Writer, t Type) (io.Writer, func() error, error) {
	switch t {
	case None:
		return w, func() error { return nil }, nil
	case GZ:
		gz := gzip.NewWriter(w)
		return gz, gz.Close, nil
	case BZ2:
		return nil, nil, errors.New("compression: bzip2 is not supported for writing")
	case XZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("compression: xz writer: %w", err)
		}
		return xw, xw.Close, nil
	case ZSTD:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("compression: zstd writer: %w", err)
		}
		return zw, zw.Close, nil
	}
	return nil, nil, fmt.Errorf("compression: unsupported codec %v", t)
}
