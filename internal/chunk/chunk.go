// Package chunk splits a delimited-text source into record-aligned chunks
// that can be parsed independently of each other.
package chunk

import (
	"fmt"
)

// Span is an immutable byte range of the source.
type Span struct {
	Offset int64
	Len    int64
}

// End returns the offset one past the last byte of the span.
func (s Span) End() int64 { return s.Offset + s.Len }

func (s Span) String() string { return fmt.Sprintf("[%d,%d)", s.Offset, s.End()) }

// Chunk is a record-aligned span of the source plus its sequence number.
// Sequence numbers start at Options.StartSeq and are contiguous.
type Chunk struct {
	Seq  uint64
	Span Span

	// FirstRecord is the ordinal of the first non-blank record in the chunk;
	// Records is the number of non-blank records it holds.
	FirstRecord int64
	Records     int64

	// Data holds the span's bytes as read by the scanner. It is never
	// modified after the chunk is returned.
	Data []byte

	// Malformed is set on the final chunk when the source ends inside an
	// open quoted field. Such a chunk covers only the unterminated record and
	// must not be parsed into rows.
	Malformed error
}
