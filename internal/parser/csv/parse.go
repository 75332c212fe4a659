package csv

import (
	"context"
	"fmt"
	"strings"

	"github.com/jwindhaber/async-csv/internal/dialect"
	"github.com/jwindhaber/async-csv/internal/records"
	"golang.org/x/text/encoding"
)

// ctxCheckEvery is the number of bytes parsed between context checks.
const ctxCheckEvery = 64 << 10

// Chunk is the input of a single parse.
type Chunk struct {
	Seq   uint64 // chunk sequence number, copied into tagged errors
	Data  []byte // chunk bytes, starting and ending on record boundaries
	Base  int64  // source offset of Data[0]
	First int64  // ordinal of the first record in Data
}

// ParseChunk splits c into records.
//
// Records with malformed quoting come back as tagged elements with a
// RecordParseError; input that ends inside an open quoted field yields a
// single MalformedInput element in place of the unterminated record. The only
// returned error is the context error when ctx ends mid-parse, in which case
// the records parsed so far are discarded.
func (p *Parser) ParseChunk(ctx context.Context, c Chunk) ([]records.Record, error) {
	var (
		d      = p.opt.Dialect
		m      = dialect.NewMachine(d)
		data   = c.Data
		out    = make([]records.Record, 0, estimateRecords(data, d.RecordSep))
		buf    = make([]byte, 0, 256)
		ends   = make([]int, 0, 16)
		index  = c.First
		start  = 0 // start of the current record within data
		dec    *encoding.Decoder
		nextCk = ctxCheckEvery
	)
	if p.enc != nil {
		dec = p.enc.NewDecoder()
	}

	i := 0
	if c.Base == 0 {
		i = dialect.BOMLen(data)
		start = i
	}

	emit := func(info dialect.RecordInfo, end int) {
		defer func() {
			buf = buf[:0]
			ends = ends[:0]
			start = end
		}()
		if info.Blank {
			return
		}
		rec := records.Record{Offset: c.Base + int64(start), Index: index}
		index++
		if info.Bad {
			rec.Err = &records.Error{
				Kind:   records.RecordParseError,
				Seq:    c.Seq,
				Offset: rec.Offset,
				Index:  rec.Index,
				Msg:    info.Reason,
			}
			out = append(out, rec)
			return
		}
		if info.TrailingCR && len(buf) > 0 {
			buf = buf[:len(buf)-1]
		}
		ends = append(ends, len(buf))
		fields, err := p.fields(buf, ends, dec)
		if err != nil {
			rec.Err = &records.Error{
				Kind:   records.RecordParseError,
				Seq:    c.Seq,
				Offset: rec.Offset,
				Index:  rec.Index,
				Msg:    "decode " + p.opt.Encoding,
				Err:    err,
			}
		} else {
			rec.Fields = fields
		}
		out = append(out, rec)
	}

	for ; i < len(data); i++ {
		if i >= nextCk {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			nextCk = i + ctxCheckEvery
		}
		b := data[i]
		switch m.Step(b) {
		case dialect.Content:
			buf = append(buf, b)
		case dialect.FieldEnd:
			ends = append(ends, len(buf))
		case dialect.RecordEnd:
			emit(m.Last(), i+1)
		}
	}

	info, pending, unterminated := m.Finish()
	switch {
	case unterminated:
		out = append(out, records.Record{
			Offset: c.Base + int64(start),
			Index:  index,
			Err: &records.Error{
				Kind:   records.MalformedInput,
				Seq:    c.Seq,
				Offset: c.Base + int64(start),
				Index:  index,
				Msg:    "input ends inside a quoted field",
			},
		})
	case pending:
		emit(info, len(data))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// fields slices one record's concatenated content into its fields. A single
// string backs all fields of the record.
func (p *Parser) fields(buf []byte, ends []int, dec *encoding.Decoder) ([]string, error) {
	line := string(buf)
	out := make([]string, len(ends))
	prev := 0
	for i, e := range ends {
		f := line[prev:e]
		prev = e
		if dec != nil {
			s, err := dec.String(f)
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", i, err)
			}
			f = s
		}
		if p.opt.TrimSpace {
			f = strings.TrimSpace(f)
		}
		out[i] = f
	}
	return out, nil
}

// ParseAll parses a complete source held in memory as a single chunk. It is
// the sequential reference for the concurrent pipeline.
func ParseAll(ctx context.Context, data []byte, opt Options) ([]records.Record, error) {
	p, err := NewParser(opt)
	if err != nil {
		return nil, err
	}
	return p.ParseChunk(ctx, Chunk{Data: data})
}

func estimateRecords(data []byte, sep byte) int {
	if len(data) == 0 {
		return 0
	}
	// Cheap upper bound from the first 4 KiB; avoids regrowing for typical rows.
	probe := data
	if len(probe) > 4096 {
		probe = probe[:4096]
	}
	n := 0
	for _, b := range probe {
		if b == sep {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n*(len(data)/len(probe)) + 1
}
