package compression

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := map[string]Type{
		"data.csv":         None,
		"data.csv.gz":      GZ,
		"DATA.CSV.GZ":      GZ,
		"data.csv.bz2":     BZ2,
		"data.csv.xz":      XZ,
		"data.csv.zst":     ZSTD,
		"data.csv.zstd":    ZSTD,
		"s3/key/x.tsv.gz":  GZ,
		"archive.gzip.csv": None,
	}
	for name, want := range tests {
		assert.Equal(t, want, Detect(name), name)
	}
}

func TestStripExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "data.csv", StripExtension("data.csv.gz"))
	assert.Equal(t, "data.csv", StripExtension("data.csv.zstd"))
	assert.Equal(t, "data.csv", StripExtension("data.csv"))
	assert.Equal(t, "DATA.CSV", StripExtension("DATA.CSV.XZ"))
}

func TestParse(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Type{"": None, "gzip": GZ, "zst": ZSTD, "XZ": XZ, "bz2": BZ2} {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := Parse("lz4")
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("id,name\n1,\"alpha, beta\"\n"), 500)
	for _, typ := range []Type{None, GZ, XZ, ZSTD} {
		t.Run(typ.String(), func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			w, closeW, err := NewWriter(&buf, typ)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, closeW())

			r, closeR, err := NewReader(&buf, typ)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, closeR())
			assert.Equal(t, payload, got)
		})
	}

	_, _, err := NewWriter(io.Discard, BZ2)
	assert.Error(t, err)
}
