package csv

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jwindhaber/async-csv/internal/dialect"
	"github.com/jwindhaber/async-csv/internal/records"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

func fieldsOf(recs []records.Record) [][]string {
	out := make([][]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Fields)
	}
	return out
}

func TestParseAll_Fields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  Options
		in   string
		want [][]string
	}{
		{
			name: "quoted delimiter and empty leading field",
			in:   "a,b\n\"c,d\"\n,e\n",
			want: [][]string{{"a", "b"}, {"c,d"}, {"", "e"}},
		},
		{
			name: "embedded newline and doubled quote",
			in:   "id,note\n1,\"line one\nline \"\"two\"\"\"\n",
			want: [][]string{{"id", "note"}, {"1", "line one\nline \"two\""}},
		},
		{
			name: "crlf and no trailing separator",
			in:   "a,b\r\nc,\"d\"\r\ne,f",
			want: [][]string{{"a", "b"}, {"c", "d"}, {"e", "f"}},
		},
		{
			name: "blank lines are skipped",
			in:   "a\n\n\r\nb\n",
			want: [][]string{{"a"}, {"b"}},
		},
		{
			name: "trailing empty field",
			in:   "a,\nb,\r\n",
			want: [][]string{{"a", ""}, {"b", ""}},
		},
		{
			name: "bom is stripped at source start",
			in:   "\xEF\xBB\xBFh1,h2\nv1,v2\n",
			want: [][]string{{"h1", "h2"}, {"v1", "v2"}},
		},
		{
			name: "escape byte dialect",
			opt:  Options{Dialect: dialect.Dialect{Delimiter: ';', Quote: '"', Escape: '\\'}},
			in:   "\"x\\\"y\";z\n",
			want: [][]string{{"x\"y", "z"}},
		},
		{
			name: "trim space",
			opt:  Options{TrimSpace: true},
			in:   " a , b \n",
			want: [][]string{{"a", "b"}},
		},
		{
			name: "windows-1250 decoding",
			opt:  Options{Encoding: "windows-1250"},
			in:   "n\x9Aa,\xE8\n",
			want: [][]string{{"nša", "č"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			recs, err := ParseAll(context.Background(), []byte(tt.in), tt.opt)
			require.NoError(t, err)
			for _, r := range recs {
				require.NoError(t, r.Err)
			}
			assert.Equal(t, tt.want, fieldsOf(recs))
		})
	}
}

func TestParseChunk_OffsetsAndIndexes(t *testing.T) {
	t.Parallel()

	p, err := NewParser(Options{})
	require.NoError(t, err)

	in := "a,b\n\nccc\n\"d\ne\"\n"
	recs, err := p.ParseChunk(context.Background(), Chunk{Seq: 3, Data: []byte(in), Base: 100, First: 10})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, int64(100), recs[0].Offset)
	assert.Equal(t, int64(10), recs[0].Index)
	assert.Equal(t, int64(105), recs[1].Offset)
	assert.Equal(t, int64(11), recs[1].Index)
	assert.Equal(t, int64(109), recs[2].Offset)
	assert.Equal(t, int64(12), recs[2].Index)
	assert.Equal(t, []string{"d\ne"}, recs[2].Fields)
}

func TestParseChunk_BadQuotingIsPerRecord(t *testing.T) {
	t.Parallel()

	in := "ok,1\nbad\"quote,2\n\"closed\"junk,3\nfine,4\n"
	recs, err := ParseAll(context.Background(), []byte(in), Options{})
	require.NoError(t, err)
	require.Len(t, recs, 4)

	assert.NoError(t, recs[0].Err)
	assert.Equal(t, records.RecordParseError, records.KindOf(recs[1].Err))
	assert.Equal(t, records.RecordParseError, records.KindOf(recs[2].Err))
	assert.Equal(t, []string{"fine", "4"}, recs[3].Fields)
	assert.Equal(t, int64(3), recs[3].Index)
}

func TestParseChunk_UnterminatedQuote(t *testing.T) {
	t.Parallel()

	in := "a,b\nc,\"never closed\nmore"
	recs, err := ParseAll(context.Background(), []byte(in), Options{})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, []string{"a", "b"}, recs[0].Fields)
	assert.Nil(t, recs[1].Fields)
	assert.Equal(t, records.MalformedInput, records.KindOf(recs[1].Err))
	assert.Equal(t, int64(4), recs[1].Offset)
}

func TestParseChunk_ContextCanceled(t *testing.T) {
	t.Parallel()

	data := []byte(strings.Repeat("x,y,z\n", 50_000))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := NewParser(Options{})
	require.NoError(t, err)
	recs, err := p.ParseChunk(ctx, Chunk{Data: data})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, recs)
}

func TestNewParser_RejectsBadOptions(t *testing.T) {
	t.Parallel()

	_, err := NewParser(Options{Dialect: dialect.Dialect{Delimiter: '"'}})
	assert.Error(t, err)

	_, err = NewParser(Options{Encoding: "no-such-charset"})
	assert.Error(t, err)

	_, err = NewParser(Options{Encoding: "utf-16le"})
	assert.Error(t, err)

	p, err := NewParser(Options{Encoding: "UTF-8"})
	require.NoError(t, err)
	assert.Nil(t, p.enc)
}

func TestNewParser_EncodingAllowList(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"shift_jis", "gbk", "gb18030", "big5", "euc-jp", "euc-kr", "iso-2022-jp"} {
		_, err := NewParser(Options{Encoding: name})
		assert.Error(t, err, name)
	}
	for _, name := range []string{"windows-1250", "iso-8859-2", "iso-8859-8-i", "koi8-r", "latin1"} {
		p, err := NewParser(Options{Encoding: name})
		if assert.NoError(t, err, name) {
			assert.NotNil(t, p.enc, name)
		}
	}
}

func TestParseAll_ShiftJISTrailByteIsNotADelimiter(t *testing.T) {
	t.Parallel()

	// 0x81 0x7C is one Shift_JIS character whose trail byte is '|'.
	in := []byte{'a', 0x81, 0x7C, 'b', '|', 'c', '\n'}
	_, err := ParseAll(context.Background(), in, Options{
		Dialect:  dialect.Dialect{Delimiter: '|'},
		Encoding: "shift_jis",
	})
	assert.Error(t, err)
}

// rejectFF decodes bytes verbatim and fails on 0xFF.
type rejectFF struct{ transform.NopResetter }

func (rejectFF) Transform(dst, src []byte, atEOF bool) (int, int, error) {
	if bytes.IndexByte(src, 0xFF) >= 0 {
		return 0, 0, errors.New("invalid byte 0xff")
	}
	n := copy(dst, src)
	if n < len(src) {
		return n, n, transform.ErrShortDst
	}
	return n, n, nil
}

type rejectFFCharset struct{}

func (rejectFFCharset) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: rejectFF{}}
}

func (rejectFFCharset) NewEncoder() *encoding.Encoder {
	return &encoding.Encoder{Transformer: transform.Nop}
}

func TestParseChunk_DecodeFailureIsPerRecord(t *testing.T) {
	t.Parallel()

	p := &Parser{
		opt: Options{Dialect: dialect.Default(), Encoding: "test"},
		enc: rejectFFCharset{},
	}
	in := []byte("a,b\nx\xff,y\nc,d\n")
	recs, err := p.ParseChunk(context.Background(), Chunk{Data: in})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, []string{"a", "b"}, recs[0].Fields)
	assert.Nil(t, recs[1].Fields)
	assert.Equal(t, records.RecordParseError, records.KindOf(recs[1].Err))
	assert.Equal(t, int64(4), recs[1].Offset)
	assert.Equal(t, int64(1), recs[1].Index)
	assert.Equal(t, []string{"c", "d"}, recs[2].Fields)
}

func BenchmarkParseChunk(b *testing.B) {
	var sb strings.Builder
	sb.WriteString("pcv,typ,stav,platnost_od,aktualni\n")
	for i := 0; i < 50_000; i++ {
		sb.WriteString("123456,\"E - Evidenční\",Nezjištěno,07.10.2011,True\n")
	}
	data := []byte(sb.String())
	p, err := NewParser(Options{})
	if err != nil {
		b.Fatal(err)
	}

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		recs, err := p.ParseChunk(context.Background(), Chunk{Data: data})
		if err != nil {
			b.Fatal(err)
		}
		if len(recs) != 50_001 {
			b.Fatalf("records = %d", len(recs))
		}
	}
}
