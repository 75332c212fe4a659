// Package dialect describes the byte-level shape of delimited text and
// provides the quote-state machine shared by the chunk scanner and the chunk
// parser. Both sides step the same Machine over the same bytes, so record
// boundaries found while scanning are exactly the ones the parser sees.
package dialect

import "fmt"

// Dialect names the structural bytes of a delimited-text stream.
type Dialect struct {
	// Delimiter separates fields within a record. Default ','.
	Delimiter byte
	// Quote opens and closes a quoted field. Default '"'.
	Quote byte
	// Escape makes the next byte literal inside a quoted field. When Escape
	// equals Quote (the default) the doubled-quote convention applies.
	Escape byte
	// RecordSep terminates a record. Default '\n'; a preceding '\r' is
	// accepted and dropped.
	RecordSep byte
}

// Default returns the RFC 4180 style dialect: comma, double quote, doubled
// quote escaping and newline record separator.
func Default() Dialect {
	return Dialect{Delimiter: ',', Quote: '"', Escape: '"', RecordSep: '\n'}
}

// WithDefaults fills zero bytes with the defaults.
func (d Dialect) WithDefaults() Dialect {
	def := Default()
	if d.Delimiter == 0 {
		d.Delimiter = def.Delimiter
	}
	if d.Quote == 0 {
		d.Quote = def.Quote
	}
	if d.Escape == 0 {
		d.Escape = d.Quote
	}
	if d.RecordSep == 0 {
		d.RecordSep = def.RecordSep
	}
	return d
}

// Validate reports a dialect whose structural bytes collide.
func (d Dialect) Validate() error {
	switch {
	case d.Delimiter == d.Quote:
		return fmt.Errorf("dialect: delimiter and quote must differ (both %q)", d.Delimiter)
	case d.Delimiter == d.RecordSep:
		return fmt.Errorf("dialect: delimiter and record separator must differ (both %q)", d.Delimiter)
	case d.Quote == d.RecordSep:
		return fmt.Errorf("dialect: quote and record separator must differ (both %q)", d.Quote)
	case d.Escape != d.Quote && (d.Escape == d.Delimiter || d.Escape == d.RecordSep):
		return fmt.Errorf("dialect: escape %q collides with a structural byte", d.Escape)
	case d.Delimiter == '\r' || d.Quote == '\r':
		return fmt.Errorf("dialect: carriage return cannot be a delimiter or quote")
	}
	return nil
}

// DoubledQuote reports whether the doubled-quote convention is in effect.
func (d Dialect) DoubledQuote() bool { return d.Escape == d.Quote }
