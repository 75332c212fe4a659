package dialect

// Action tells the caller what to do with the byte just stepped.
type Action uint8

const (
	// Skip means the byte is structural (quote, escape, dropped '\r').
	Skip Action = iota
	// Content means the byte belongs to the current field's value.
	Content
	// FieldEnd means the byte is a delimiter that closed the current field.
	FieldEnd
	// RecordEnd means the byte is a record separator that closed the record.
	RecordEnd
)

type state uint8

const (
	stFieldStart state = iota
	stUnquoted
	stQuoted
	stQuoteSeen // closing quote candidate inside a quoted field
	stEscaped   // distinct escape byte seen inside a quoted field
	stClosedCR  // '\r' after a closing quote, waiting for the separator
)

// RecordInfo describes a record at the moment it ended.
type RecordInfo struct {
	// Bad is set when the record has malformed quoting; Reason says why.
	Bad    bool
	Reason string
	// Blank is set for records without content (an empty line, or a lone
	// '\r'). Blank records are skipped by the parser and not counted by the
	// scanner.
	Blank bool
	// TrailingCR is set when the last field was unquoted and ended with '\r';
	// the parser drops that byte.
	TrailingCR bool
}

// Machine is the quote-state automaton. Build one with NewMachine; a Machine
// must be started at a record boundary.
type Machine struct {
	d      Dialect
	st     state
	n      int  // bytes consumed by the current record, separator excluded
	cr     bool // last content byte of the current unquoted field was '\r'
	quoted bool // the current field is quoted
	bad    bool
	reason string
	last   RecordInfo
}

// NewMachine returns a machine positioned at a record boundary.
func NewMachine(d Dialect) *Machine {
	return &Machine{d: d.WithDefaults()}
}

// Reset puts the machine back at a record boundary.
func (m *Machine) Reset() {
	m.st = stFieldStart
	m.n = 0
	m.cr = false
	m.quoted = false
	m.bad = false
	m.reason = ""
}

// Step advances the machine by one byte. When it returns RecordEnd, Last
// describes the record that just ended.
func (m *Machine) Step(b byte) Action {
	d := &m.d
	if b == d.RecordSep && m.st != stQuoted && m.st != stEscaped {
		m.last = m.info()
		m.Reset()
		return RecordEnd
	}
	m.n++

	switch m.st {
	case stFieldStart:
		m.quoted = false
		m.cr = false
		switch b {
		case d.Quote:
			m.st = stQuoted
			m.quoted = true
			return Skip
		case d.Delimiter:
			return FieldEnd
		}
		m.st = stUnquoted
		m.cr = b == '\r'
		return Content

	case stUnquoted:
		switch b {
		case d.Delimiter:
			m.st = stFieldStart
			return FieldEnd
		case d.Quote:
			m.markBad("bare quote in unquoted field")
		}
		m.cr = b == '\r'
		return Content

	case stQuoted:
		switch {
		case b == d.Quote:
			m.st = stQuoteSeen
			return Skip
		case b == d.Escape:
			m.st = stEscaped
			return Skip
		}
		return Content

	case stEscaped:
		m.st = stQuoted
		return Content

	case stQuoteSeen:
		switch {
		case b == d.Quote && d.DoubledQuote():
			m.st = stQuoted
			return Content
		case b == d.Delimiter:
			m.st = stFieldStart
			return FieldEnd
		case b == '\r':
			m.st = stClosedCR
			return Skip
		}
		m.markBad("unexpected byte after closing quote")
		m.toUnquoted(b)
		return Content

	case stClosedCR:
		m.markBad("carriage return after closing quote")
		if b == d.Delimiter {
			m.st = stFieldStart
			return FieldEnd
		}
		m.toUnquoted(b)
		return Content
	}
	return Content
}

func (m *Machine) toUnquoted(b byte) {
	m.st = stUnquoted
	m.quoted = false
	m.cr = b == '\r'
}

func (m *Machine) markBad(reason string) {
	if !m.bad {
		m.bad = true
		m.reason = reason
	}
}

func (m *Machine) info() RecordInfo {
	unquotedCR := m.cr && !m.quoted && m.st == stUnquoted
	return RecordInfo{
		Bad:        m.bad,
		Reason:     m.reason,
		Blank:      m.n == 0 || (m.n == 1 && unquotedCR),
		TrailingCR: unquotedCR,
	}
}

// Last describes the record closed by the most recent RecordEnd.
func (m *Machine) Last() RecordInfo { return m.last }

// Finish describes the record in progress at end of input. pending is false
// when no bytes follow the last separator; unterminated is true when the
// input ended inside an open quoted field.
func (m *Machine) Finish() (info RecordInfo, pending, unterminated bool) {
	return m.info(), m.n > 0, m.InQuote()
}

// InQuote reports whether the machine is inside an open quoted field.
func (m *Machine) InQuote() bool { return m.st == stQuoted || m.st == stEscaped }
