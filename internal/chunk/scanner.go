package chunk

import (
	"context"
	"errors"
	"io"
	"math"

	"github.com/jwindhaber/async-csv/internal/datasource"
	"github.com/jwindhaber/async-csv/internal/dialect"
	"github.com/jwindhaber/async-csv/internal/records"
)

const (
	DefaultHint     = 4 << 20
	DefaultReadSize = 256 << 10
)

// Options configures a Scanner.
type Options struct {
	// Hint is the target chunk size in bytes. The actual boundary is the
	// byte after the first record separator at or past Hint bytes into the
	// chunk that is not inside a quoted field.
	Hint int64
	// ReadSize is the size of each read from the source.
	ReadSize int

	// StartOffset, StartSeq and StartRecord restart a scan in the middle of
	// a source. StartOffset must be a record boundary.
	StartOffset int64
	StartSeq    uint64
	StartRecord int64
}

func (o Options) withDefaults() Options {
	if o.Hint <= 0 {
		o.Hint = DefaultHint
	}
	if o.ReadSize <= 0 {
		o.ReadSize = DefaultReadSize
	}
	return o
}

// Scanner produces chunks lazily. It is not safe for concurrent use; one
// goroutine calls Next until it returns io.EOF or an error.
type Scanner struct {
	src  datasource.RangeSource
	m    *dialect.Machine
	opt  Options
	size int64 // -1 until known

	off   int64  // source offset of the next chunk
	seq   uint64 // next sequence number
	rec   int64  // ordinal of the next record
	carry []byte // bytes already read past the last boundary

	tail *Chunk // malformed chunk queued behind a well-formed prefix
	done bool
}

// NewScanner returns a Scanner over src.
func NewScanner(src datasource.RangeSource, d dialect.Dialect, opt Options) *Scanner {
	opt = opt.withDefaults()
	return &Scanner{
		src:  src,
		m:    dialect.NewMachine(d),
		opt:  opt,
		size: -1,
		off:  opt.StartOffset,
		seq:  opt.StartSeq,
		rec:  opt.StartRecord,
	}
}

// Offset returns the source offset at which the next chunk starts. Together
// with Seq and Record it is enough to restart a scan.
func (s *Scanner) Offset() int64 { return s.off }

// Seq returns the next sequence number.
func (s *Scanner) Seq() uint64 { return s.seq }

// Record returns the ordinal of the next record.
func (s *Scanner) Record() int64 { return s.rec }

// Next returns the next chunk, or io.EOF once the source is exhausted.
// Source failures are returned as SourceFailure errors.
func (s *Scanner) Next(ctx context.Context) (Chunk, error) {
	if s.tail != nil {
		c := *s.tail
		s.tail = nil
		s.done = true
		return c, nil
	}
	if s.done {
		return Chunk{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if s.size < 0 {
		size, err := s.src.Size(ctx)
		if err != nil {
			return Chunk{}, s.sourceErr(ctx, err)
		}
		s.size = size
	}

	start := s.off
	// Size the buffer for what the source can still deliver; fill grows it
	// when a record runs past the hint.
	want := min(s.opt.Hint, max(s.size-start, 0))
	want = min(want, int64(math.MaxInt-s.opt.ReadSize))
	buf := make([]byte, len(s.carry), max(int(want)+s.opt.ReadSize, len(s.carry)))
	copy(buf, s.carry)
	s.carry = nil

	s.m.Reset()
	pos := 0
	if start == 0 {
		// The BOM is never part of a record; skip it once it is in the buffer.
		for len(buf) < 3 && start+int64(len(buf)) < s.size {
			var err error
			if buf, err = s.fill(ctx, buf, start); err != nil {
				return Chunk{}, err
			}
		}
		pos = dialect.BOMLen(buf)
	}

	var (
		boundary = -1 // end of the last complete record in buf
		count    int64
		hint     = int(min(s.opt.Hint, int64(math.MaxInt)))
	)
	for {
		for ; pos < len(buf); pos++ {
			if s.m.Step(buf[pos]) != dialect.RecordEnd {
				continue
			}
			boundary = pos + 1
			if !s.m.Last().Blank {
				count++
			}
			if pos >= hint {
				s.carry = append([]byte(nil), buf[boundary:]...)
				return s.emit(start, buf[:boundary:boundary], count), nil
			}
		}
		if start+int64(len(buf)) >= s.size {
			break
		}
		var err error
		if buf, err = s.fill(ctx, buf, start); err != nil {
			return Chunk{}, err
		}
	}

	// End of source.
	s.done = true
	info, pending, unterminated := s.m.Finish()
	if unterminated {
		if boundary > 0 {
			// Emit the well-formed prefix now and the unterminated record on
			// the following call.
			prefix := s.emit(start, buf[:boundary:boundary], count)
			tail := s.malformed(start+int64(boundary), buf[boundary:], start+int64(boundary))
			s.tail = &tail
			s.done = false
			return prefix, nil
		}
		errAt := start
		if start == 0 {
			errAt += int64(dialect.BOMLen(buf))
		}
		return s.malformed(start, buf, errAt), nil
	}
	if len(buf) == 0 {
		return Chunk{}, io.EOF
	}
	if pending && !info.Blank {
		count++
	}
	return s.emit(start, buf, count), nil
}

// fill appends up to ReadSize bytes read from the source after buf.
func (s *Scanner) fill(ctx context.Context, buf []byte, start int64) ([]byte, error) {
	at := start + int64(len(buf))
	want := int64(s.opt.ReadSize)
	if rest := s.size - at; rest < want {
		want = rest
	}
	if want <= 0 {
		return buf, nil
	}
	n := len(buf)
	if cap(buf)-n < int(want) {
		grown := make([]byte, n, 2*cap(buf)+int(want))
		copy(grown, buf)
		buf = grown
	}
	got, err := s.src.ReadAt(ctx, buf[n:n+int(want)], at)
	buf = buf[:n+got]
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, s.sourceErr(ctx, err)
	}
	if got < int(want) {
		// The source shrank under us; stop at what is there.
		s.size = at + int64(got)
	}
	return buf, nil
}

func (s *Scanner) emit(start int64, data []byte, count int64) Chunk {
	c := Chunk{
		Seq:         s.seq,
		Span:        Span{Offset: start, Len: int64(len(data))},
		FirstRecord: s.rec,
		Records:     count,
		Data:        data,
	}
	s.seq++
	s.rec += count
	s.off = c.Span.End()
	return c
}

func (s *Scanner) sourceErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	e := records.Wrap(records.SourceFailure, s.seq, err)
	e.Offset = s.off
	return e
}

// malformed builds the final chunk for a record whose quoted field never
// closes. errAt is the offset of that record.
func (s *Scanner) malformed(start int64, data []byte, errAt int64) Chunk {
	c := Chunk{
		Seq:         s.seq,
		Span:        Span{Offset: start, Len: int64(len(data))},
		FirstRecord: s.rec,
		Data:        data,
		Malformed: &records.Error{
			Kind:   records.MalformedInput,
			Seq:    s.seq,
			Offset: errAt,
			Index:  s.rec,
			Msg:    "input ends inside a quoted field",
		},
	}
	s.seq++
	s.off = c.Span.End()
	return c
}
