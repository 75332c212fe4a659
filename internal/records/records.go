// Package records defines the logical row type that flows from the chunk
// parser to downstream subscribers, and the error taxonomy attached to it.
//
// A Record with a nil Err is a clean row. A Record with a non-nil Err is a
// tagged error element: it occupies the position of the bad input in the
// ordered stream and is delivered like any other element.
package records

// Record is one logical row of the input.
type Record struct {
	// Fields holds the raw field values, in source order, without coercion.
	Fields []string

	// Offset is the byte offset of the first byte of the record in the source.
	Offset int64

	// Index is the 0-based ordinal of the record among all non-blank records
	// of the source.
	Index int64

	// Err is non-nil for tagged error elements. Fields may be nil in that case.
	Err error
}

// OK reports whether r is a clean record.
func (r Record) OK() bool { return r.Err == nil }

// Width returns the number of fields in the record.
func (r Record) Width() int { return len(r.Fields) }
