package aggregate

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lowercases s, strips diacritics and trims space, so "Škoda " and
// "skoda" count as one distinct value.
func fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if isASCII(s) {
		return s
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return norm.NFC.String(s)
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// columnName turns a header cell into a column name: trimmed, inner runs of
// white space collapsed to one underscore, and col_<i> when empty.
func columnName(s string, i int) string {
	s = strings.Join(strings.Fields(s), "_")
	if s == "" {
		return defaultColumn(i)
	}
	return s
}

func defaultColumn(i int) string { return "col_" + strconv.Itoa(i) }
