package probe

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName turns header text into a lowercase ASCII identifier:
// accents are stripped, spaces, dashes and dots become '_', anything else
// outside [a-z0-9_] is dropped. Empty results become "col". Names longer
// than 63 bytes keep their first 10 and last 53 bytes.
func NormalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	ascii, _, _ := transform.String(t, s)

	var b strings.Builder
	underscore := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.':
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "col"
	}
	if len(name) > 63 {
		name = name[:10] + name[len(name)-53:]
	}
	return name
}

// uniqueNames normalizes headers and suffixes duplicates with _2, _3, ...
func uniqueNames(headers []string) []string {
	out := make([]string, len(headers))
	seen := make(map[string]int, len(headers))
	for i, h := range headers {
		n := NormalizeName(h)
		seen[n]++
		if c := seen[n]; c > 1 {
			n += "_" + strconv.Itoa(c)
		}
		out[i] = n
	}
	return out
}
