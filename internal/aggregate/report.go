package aggregate

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Report is the result of one aggregation run.
type Report struct {
	RunID string `json:"run_id,omitempty"`
	// Rows counts clean data records that passed width and rule checks.
	Rows int64 `json:"rows"`
	// Rejected counts data records dropped by width or rule checks.
	Rejected int64 `json:"rejected"`
	// Errors counts tagged records by error kind.
	Errors map[string]int64 `json:"errors,omitempty"`
	// Samples holds the first few error messages, in stream order.
	Samples []string `json:"samples,omitempty"`

	Header      []string                    `json:"header,omitempty"`
	Columns     []ColumnReport              `json:"columns,omitempty"`
	Groups      []GroupReport               `json:"groups,omitempty"`
	Violations  map[string]map[string]int64 `json:"violations,omitempty"`
	Fingerprint string                      `json:"fingerprint"`

	// Outcome is "complete", "cancelled" or "failed".
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// GroupReport holds the reducers of one group_by key.
type GroupReport struct {
	Key     string         `json:"key"`
	Rows    int64          `json:"rows"`
	Columns []ColumnReport `json:"columns"`
}

// ColumnReport holds the requested statistics of one column. Unrequested
// statistics are nil; numeric statistics stay nil until a number was seen.
type ColumnReport struct {
	Column   string   `json:"column"`
	Count    *int64   `json:"count,omitempty"`
	Empty    *int64   `json:"empty,omitempty"`
	Distinct *int64   `json:"distinct,omitempty"`
	Invalid  *int64   `json:"invalid,omitempty"`
	Sum      *float64 `json:"sum,omitempty"`
	Mean     *float64 `json:"mean,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Variance *float64 `json:"variance,omitempty"`
	Stddev   *float64 `json:"stddev,omitempty"`
}

// Column returns the report of the named column, if present.
func (r *Report) Column(name string) (ColumnReport, bool) {
	for _, c := range r.Columns {
		if c.Column == name {
			return c, true
		}
	}
	return ColumnReport{}, false
}

// WriteJSON writes r as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Summary is a one-line "key=value" rendering for logs.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "outcome=%s rows=%d rejected=%d", r.Outcome, r.Rows, r.Rejected)
	kinds := make([]string, 0, len(r.Errors))
	for k := range r.Errors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, " %s=%d", k, r.Errors[k])
	}
	fmt.Fprintf(&b, " fingerprint=%s", r.Fingerprint)
	if r.RunID != "" {
		fmt.Fprintf(&b, " run=%s", r.RunID)
	}
	return b.String()
}
