// Package csv parses self-contained chunks of delimited text into records.
//
// A chunk is a byte range that starts and ends on record boundaries. Parsing
// is a pure function of the chunk bytes and the dialect, so chunks can be
// parsed concurrently and in any order; the caller restores source order.
package csv

import (
	"fmt"
	"strings"

	"github.com/jwindhaber/async-csv/internal/dialect"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// Options configures the chunk parser.
type Options struct {
	// Dialect selects the delimiter, quote, escape and record separator.
	Dialect dialect.Dialect

	// TrimSpace trims leading and trailing white space from every field.
	TrimSpace bool

	// Encoding names the source character set (WHATWG label, e.g.
	// "windows-1250", "iso-8859-2"). Empty or "utf-8" means no decoding.
	// Only ASCII-compatible single-byte encodings are accepted, because
	// chunk boundaries are found on raw bytes. Fields that fail to decode
	// come back as RecordParseError elements.
	Encoding string
}

// Parser parses chunks according to Options. It is safe for concurrent use.
type Parser struct {
	opt Options
	enc encoding.Encoding // nil for UTF-8 input
}

// NewParser validates opt and returns a Parser.
func NewParser(opt Options) (*Parser, error) {
	opt.Dialect = opt.Dialect.WithDefaults()
	if err := opt.Dialect.Validate(); err != nil {
		return nil, err
	}
	enc, err := lookupEncoding(opt.Encoding)
	if err != nil {
		return nil, err
	}
	return &Parser{opt: opt, enc: enc}, nil
}

// Options returns the resolved options.
func (p *Parser) Options() Options { return p.opt }

func lookupEncoding(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" || name == "utf-8" || name == "utf8" {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("csv: unknown encoding %q: %w", name, err)
	}
	if enc == unicode.UTF8 {
		return nil, nil
	}
	if !singleByte(enc) || !asciiCompatible(enc) {
		return nil, fmt.Errorf("csv: encoding %q is not an ASCII-compatible single-byte charset; transcode the source to UTF-8 first", name)
	}
	return enc, nil
}

// singleByte reports whether enc is a one-byte-per-character charset.
// Multibyte charsets (Shift_JIS, GBK, Big5, ISO-2022-JP, ...) can carry
// delimiter or quote bytes inside a character, so boundaries found on raw
// bytes would split characters.
func singleByte(enc encoding.Encoding) bool {
	if _, ok := enc.(*charmap.Charmap); ok {
		return true
	}
	switch enc {
	case charmap.ISO8859_6E, charmap.ISO8859_6I, charmap.ISO8859_8E, charmap.ISO8859_8I:
		return true
	}
	return false
}

// asciiCompatible reports whether enc maps the structural ASCII bytes to
// themselves, which is what byte-level boundary scanning relies on.
func asciiCompatible(enc encoding.Encoding) bool {
	sample := []byte("\n\r,;|\t\"'\\ aZ09")
	out, err := enc.NewDecoder().Bytes(sample)
	return err == nil && string(out) == string(sample)
}
