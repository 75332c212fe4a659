package aggregate

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Rule is a per-column validation contract. Rules only check values; they
// never change them.
type Rule struct {
	Column   string   `json:"column" yaml:"column"`
	Required bool     `json:"required,omitempty" yaml:"required,omitempty"`
	// MaxLength limits the value length in runes; 0 means no limit.
	MaxLength int      `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Pattern   string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Enum      []string `json:"enum,omitempty" yaml:"enum,omitempty"`
	// Type is "text" (default), "boolean", "decimal" or "date_time".
	Type   string   `json:"type,omitempty" yaml:"type,omitempty"`
	Layout string   `json:"layout,omitempty" yaml:"layout,omitempty"`
	Truthy []string `json:"truthy,omitempty" yaml:"truthy,omitempty"`
	Falsy  []string `json:"falsy,omitempty" yaml:"falsy,omitempty"`
}

// Violation names used as keys in Report.Violations.
const (
	ruleRequired  = "required"
	ruleMaxLength = "max_length"
	rulePattern   = "pattern"
	ruleEnum      = "enum"
	ruleBoolean   = "boolean"
	ruleDecimal   = "decimal"
	ruleDateTime  = "date_time"
)

// Default boolean vocabulary, lowercased. Includes Czech "ano"/"ne".
var (
	defaultTruthy = map[string]struct{}{"1": {}, "t": {}, "true": {}, "yes": {}, "y": {}, "ano": {}}
	defaultFalsy  = map[string]struct{}{"0": {}, "f": {}, "false": {}, "no": {}, "n": {}, "ne": {}}
)

// Date layouts tried after the rule's own layout.
var fallbackLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

type compiledRule struct {
	column   string
	required bool
	maxLen   int
	re       *regexp.Regexp
	enum     map[string]struct{}
	kind     string
	layout   string
	truthy   map[string]struct{}
	falsy    map[string]struct{}
}

func compileRule(r Rule) (compiledRule, error) {
	c := compiledRule{
		column:   r.Column,
		required: r.Required,
		maxLen:   r.MaxLength,
		kind:     normalizeType(r.Type),
		layout:   r.Layout,
	}
	if strings.TrimSpace(r.Column) == "" {
		return c, fmt.Errorf("aggregate: rule without column")
	}
	if r.MaxLength < 0 {
		return c, fmt.Errorf("aggregate: rule %q: negative max_length", r.Column)
	}
	switch c.kind {
	case "text", ruleBoolean, ruleDecimal, ruleDateTime:
	default:
		return c, fmt.Errorf("aggregate: rule %q: unknown type %q", r.Column, r.Type)
	}
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return c, fmt.Errorf("aggregate: rule %q: pattern: %w", r.Column, err)
		}
		c.re = re
	}
	if len(r.Enum) > 0 {
		c.enum = make(map[string]struct{}, len(r.Enum))
		for _, e := range r.Enum {
			c.enum[e] = struct{}{}
		}
	}
	c.truthy, c.falsy = lowerSet(r.Truthy), lowerSet(r.Falsy)
	if c.truthy == nil && c.falsy == nil {
		c.truthy, c.falsy = defaultTruthy, defaultFalsy
	}
	return c, nil
}

// normalizeType maps schema-ish type names onto rule kinds.
func normalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "text", "string", "varchar":
		return "text"
	case "bool", "boolean":
		return ruleBoolean
	case "decimal", "numeric", "number", "float", "int", "integer", "bigint":
		return ruleDecimal
	case "date", "datetime", "date_time", "timestamp", "timestamptz":
		return ruleDateTime
	default:
		return strings.ToLower(t)
	}
}

// check appends the names of the rules v violates to dst.
func (c *compiledRule) check(dst []string, v string) []string {
	if strings.TrimSpace(v) == "" {
		if c.required {
			dst = append(dst, ruleRequired)
		}
		return dst
	}
	if c.maxLen > 0 && utf8.RuneCountInString(v) > c.maxLen {
		dst = append(dst, ruleMaxLength)
	}
	if c.re != nil && !c.re.MatchString(v) {
		dst = append(dst, rulePattern)
	}
	if c.enum != nil {
		if _, ok := c.enum[v]; !ok {
			dst = append(dst, ruleEnum)
		}
	}
	switch c.kind {
	case ruleBoolean:
		s := strings.ToLower(strings.TrimSpace(v))
		_, yes := c.truthy[s]
		_, no := c.falsy[s]
		if !yes && !no {
			dst = append(dst, ruleBoolean)
		}
	case ruleDecimal:
		if _, ok := parseNumber(v); !ok {
			dst = append(dst, ruleDecimal)
		}
	case ruleDateTime:
		if !parseAnyDate(strings.TrimSpace(v), c.layout) {
			dst = append(dst, ruleDateTime)
		}
	}
	return dst
}

func lowerSet(in []string) map[string]struct{} {
	if len(in) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(in))
	for _, s := range in {
		m[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return m
}

// parseAnyDate tries the rule layout, the Czech "02.01.2006" fast path and
// the fallback layouts, in that order.
func parseAnyDate(s, layout string) bool {
	if layout != "" {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	if _, ok := parseCZDate(s); ok {
		return true
	}
	for _, l := range fallbackLayouts {
		if _, err := time.Parse(l, s); err == nil {
			return true
		}
	}
	return false
}

// parseCZDate parses "DD.MM.YYYY" without allocating.
func parseCZDate(s string) (time.Time, bool) {
	if len(s) != 10 || s[2] != '.' || s[5] != '.' {
		return time.Time{}, false
	}
	d1, d0 := s[0]-'0', s[1]-'0'
	m1, m0 := s[3]-'0', s[4]-'0'
	y3, y2, y1, y0 := s[6]-'0', s[7]-'0', s[8]-'0', s[9]-'0'
	if d1 > 9 || d0 > 9 || m1 > 9 || m0 > 9 || y3 > 9 || y2 > 9 || y1 > 9 || y0 > 9 {
		return time.Time{}, false
	}
	day := int(d1)*10 + int(d0)
	mon := int(m1)*10 + int(m0)
	year := int(y3)*1000 + int(y2)*100 + int(y1)*10 + int(y0)
	if mon < 1 || mon > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(mon), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false // 31.02. and friends
	}
	return t, true
}
