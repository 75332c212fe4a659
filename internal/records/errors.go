package records

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error.
type Kind int

const (
	// Unknown is the zero Kind; it is never produced by the pipeline itself.
	Unknown Kind = iota
	// MalformedInput marks a region whose quoting never terminates (for
	// example, the source ends inside a quoted field). Reported once, with the
	// byte offset of the unterminated record.
	MalformedInput
	// RecordParseError marks a single record with bad quoting. The stream
	// continues with the next record.
	RecordParseError
	// ChunkTimeout marks a chunk that exceeded the per-chunk parse timeout on
	// both the first attempt and the retry.
	ChunkTimeout
	// InternalConsistency marks an ordering violation (duplicate or stale
	// sequence number, holding bound exceeded, gap at end of input).
	InternalConsistency
	// SourceFailure marks a failure of the underlying byte source.
	SourceFailure
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case MalformedInput:
		return "malformed_input"
	case RecordParseError:
		return "record_parse_error"
	case ChunkTimeout:
		return "chunk_timeout"
	case InternalConsistency:
		return "internal_consistency"
	case SourceFailure:
		return "source_failure"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind end the stream.
func (k Kind) Fatal() bool {
	return k == InternalConsistency || k == SourceFailure
}

// Error is the error type used for every tagged element and terminal error
// produced by the pipeline.
type Error struct {
	Kind   Kind
	Seq    uint64 // chunk sequence number, when known
	Offset int64  // byte offset into the source, -1 when unknown
	Index  int64  // record ordinal, -1 when unknown
	Msg    string
	Err    error
}

// Error implements error.
func (e *Error) Error() string {
	s := fmt.Sprintf("%s: seq=%d", e.Kind, e.Seq)
	if e.Offset >= 0 {
		s += fmt.Sprintf(" offset=%d", e.Offset)
	}
	if e.Index >= 0 {
		s += fmt.Sprintf(" record=%d", e.Index)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error with unknown offset and index.
func New(kind Kind, seq uint64, msg string) *Error {
	return &Error{Kind: kind, Seq: seq, Offset: -1, Index: -1, Msg: msg}
}

// Wrap builds an *Error wrapping err.
func Wrap(kind Kind, seq uint64, err error) *Error {
	return &Error{Kind: kind, Seq: seq, Offset: -1, Index: -1, Err: err}
}

// KindOf returns the Kind of err, or Unknown when err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsFatal reports whether err ends the stream. Errors that do not carry a
// Kind are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == Unknown || k.Fatal()
}
