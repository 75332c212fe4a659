package aggregate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// Op is a reducer operation.
type Op string

const (
	OpCount    Op = "count"
	OpSum      Op = "sum"
	OpMean     Op = "mean"
	OpMin      Op = "min"
	OpMax      Op = "max"
	OpVariance Op = "variance"
	OpStddev   Op = "stddev"
	OpDistinct Op = "distinct"
	OpEmpty    Op = "empty"
)

var knownOps = map[Op]bool{
	OpCount: true, OpSum: true, OpMean: true, OpMin: true, OpMax: true,
	OpVariance: true, OpStddev: true, OpDistinct: true, OpEmpty: true,
}

func (o Op) numeric() bool {
	switch o {
	case OpSum, OpMean, OpMin, OpMax, OpVariance, OpStddev:
		return true
	}
	return false
}

// ReducerSpec asks for ops over one column.
type ReducerSpec struct {
	Column string `json:"column" yaml:"column"`
	Ops    []Op   `json:"ops" yaml:"ops"`
}

func (r ReducerSpec) validate() error {
	if strings.TrimSpace(r.Column) == "" {
		return fmt.Errorf("aggregate: reducer without column")
	}
	if len(r.Ops) == 0 {
		return fmt.Errorf("aggregate: reducer %q has no ops", r.Column)
	}
	for _, op := range r.Ops {
		if !knownOps[op] {
			return fmt.Errorf("aggregate: reducer %q: unknown op %q", r.Column, op)
		}
	}
	return nil
}

// colState is the running state of one reducer. Mean and variance use
// Welford's online update, which stays stable over long streams.
type colState struct {
	ops     []Op
	numeric bool

	count   int64 // non-empty values
	empty   int64
	invalid int64 // non-empty values that are not numbers (numeric ops only)

	n    int64 // numeric values
	sum  float64
	mean float64
	m2   float64
	min  float64
	max  float64

	distinct map[uint64]struct{}
}

func newColState(ops []Op) *colState {
	s := &colState{ops: ops}
	for _, op := range ops {
		if op.numeric() {
			s.numeric = true
		}
		if op == OpDistinct {
			s.distinct = make(map[uint64]struct{})
		}
	}
	return s
}

func (s *colState) add(v string) {
	if strings.TrimSpace(v) == "" {
		s.empty++
		return
	}
	s.count++
	if s.distinct != nil {
		s.distinct[xxh3.HashString(fold(v))] = struct{}{}
	}
	if !s.numeric {
		return
	}
	x, ok := parseNumber(v)
	if !ok {
		s.invalid++
		return
	}
	s.n++
	if s.n == 1 {
		s.min, s.max = x, x
	} else {
		s.min = math.Min(s.min, x)
		s.max = math.Max(s.max, x)
	}
	s.sum += x
	d := x - s.mean
	s.mean += d / float64(s.n)
	s.m2 += d * (x - s.mean)
}

// parseNumber accepts plain decimals and a decimal comma ("3,14") when the
// value holds no dot.
func parseNumber(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f, true
	}
	if strings.Count(v, ",") == 1 && !strings.Contains(v, ".") {
		if f, err := strconv.ParseFloat(strings.Replace(v, ",", ".", 1), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func (s *colState) report(column string) ColumnReport {
	r := ColumnReport{Column: column}
	for _, op := range s.ops {
		switch op {
		case OpCount:
			r.Count = ptr(s.count)
		case OpEmpty:
			r.Empty = ptr(s.empty)
		case OpDistinct:
			r.Distinct = ptr(int64(len(s.distinct)))
		case OpSum:
			if s.n > 0 {
				r.Sum = ptr(s.sum)
			}
		case OpMean:
			if s.n > 0 {
				r.Mean = ptr(s.mean)
			}
		case OpMin:
			if s.n > 0 {
				r.Min = ptr(s.min)
			}
		case OpMax:
			if s.n > 0 {
				r.Max = ptr(s.max)
			}
		case OpVariance:
			if s.n > 1 {
				r.Variance = ptr(s.m2 / float64(s.n-1))
			}
		case OpStddev:
			if s.n > 1 {
				r.Stddev = ptr(math.Sqrt(s.m2 / float64(s.n-1)))
			}
		}
	}
	if s.numeric {
		r.Invalid = ptr(s.invalid)
	}
	return r
}

func ptr[T any](v T) *T { return &v }
