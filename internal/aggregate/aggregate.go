// Package aggregate folds the ordered record stream into per-column
// statistics. An Aggregator is a pipeline.Subscriber that pulls records in
// fixed batches, so a slow reducer slows the parser instead of buffering.
package aggregate

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/jwindhaber/async-csv/internal/pipeline"
	"github.com/jwindhaber/async-csv/internal/records"
	"github.com/zeebo/xxh3"
)

// DefaultBatch is the demand requested per batch when Options.Batch is 0.
const DefaultBatch = 1024

const defaultSampleLimit = 10

// Error keys used in Report.Errors besides the records.Kind names.
const (
	errWidth = "width_mismatch"
	errRule  = "rule_violation"
)

// Options configures an Aggregator.
type Options struct {
	RunID string
	// Batch is the demand requested at a time. The next batch is requested
	// only after the previous one was folded.
	Batch int64
	// HasHeader makes the first clean record name the columns.
	HasHeader bool
	// ExpectedFields rejects records of another width; 0 uses the header
	// width, or disables the check without a header.
	ExpectedFields int
	Reducers       []ReducerSpec
	GroupBy        string
	Rules          []Rule
	// SampleLimit caps Report.Samples; 0 means 10.
	SampleLimit int
}

// Validate checks the option values.
func (o Options) Validate() error {
	if o.Batch < 0 {
		return fmt.Errorf("aggregate: negative batch %d", o.Batch)
	}
	if o.ExpectedFields < 0 {
		return fmt.Errorf("aggregate: negative expected_fields %d", o.ExpectedFields)
	}
	for _, r := range o.Reducers {
		if err := r.validate(); err != nil {
			return err
		}
	}
	for _, r := range o.Rules {
		if _, err := compileRule(r); err != nil {
			return err
		}
	}
	return nil
}

type group struct {
	key  string
	rows int64
	cols []*colState
}

// Aggregator implements pipeline.Subscriber.
type Aggregator struct {
	opt   Options
	rules []compiledRule

	mu      sync.Mutex
	sub     pipeline.Subscription
	left    int64 // records left in the current batch
	header  []string
	ready   bool // columns resolved
	width   int
	redIdx  []int
	ruleIdx []int
	grpIdx  int
	cols    []*colState
	groups  map[string]*group
	order   []*group
	fp      *xxh3.Hasher
	scratch []byte
	rep     Report
	err     error
	done    chan struct{}
	ended   bool
}

var _ pipeline.Subscriber = (*Aggregator)(nil)

// New returns an Aggregator for opt.
func New(opt Options) (*Aggregator, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	if opt.Batch == 0 {
		opt.Batch = DefaultBatch
	}
	if opt.SampleLimit == 0 {
		opt.SampleLimit = defaultSampleLimit
	}
	a := &Aggregator{
		opt:    opt,
		grpIdx: -1,
		fp:     xxh3.New(),
		done:   make(chan struct{}),
		rep: Report{
			RunID:  opt.RunID,
			Errors: make(map[string]int64),
		},
	}
	for _, r := range opt.Rules {
		c, err := compileRule(r)
		if err != nil {
			return nil, err
		}
		a.rules = append(a.rules, c)
	}
	for _, r := range opt.Reducers {
		a.cols = append(a.cols, newColState(r.Ops))
	}
	if opt.GroupBy != "" {
		a.groups = make(map[string]*group)
	}
	return a, nil
}

// OnSubscribe requests the first batch.
func (a *Aggregator) OnSubscribe(s pipeline.Subscription) {
	a.mu.Lock()
	a.sub = s
	a.left = a.opt.Batch
	a.mu.Unlock()
	s.Request(a.opt.Batch)
}

// OnRecord folds r and requests the next batch once the current one is used
// up. Without a subscription (when fed by another subscriber) it only folds.
func (a *Aggregator) OnRecord(r records.Record) {
	a.mu.Lock()
	a.add(r)
	var sub pipeline.Subscription
	if a.err != nil {
		sub = a.sub
		a.sub = nil
		a.mu.Unlock()
		if sub != nil {
			sub.Cancel()
		}
		return
	}
	if a.sub != nil {
		a.left--
		if a.left == 0 {
			a.left = a.opt.Batch
			sub = a.sub
		}
	}
	a.mu.Unlock()
	if sub != nil {
		sub.Request(a.opt.Batch)
	}
}

// OnError ends the run. A cancelled context yields outcome "cancelled".
func (a *Aggregator) OnError(err error) {
	outcome := "failed"
	if errors.Is(err, context.Canceled) {
		outcome = "cancelled"
	}
	a.finish(outcome, err)
}

// OnComplete ends the run.
func (a *Aggregator) OnComplete() {
	a.mu.Lock()
	err := a.err
	a.mu.Unlock()
	if err != nil {
		a.finish("failed", err)
		return
	}
	a.finish("complete", nil)
}

// Done is closed once the stream ended.
func (a *Aggregator) Done() <-chan struct{} { return a.done }

// Wait blocks until the stream ended or ctx is done.
func (a *Aggregator) Wait(ctx context.Context) (Report, error) {
	select {
	case <-a.done:
		return a.Result(), nil
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// Result returns a snapshot of the report. Before the stream ended the
// outcome is "running".
func (a *Aggregator) Result() Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	rep := a.rep
	if !a.ended {
		rep.Outcome = "running"
	}
	rep.Header = append([]string(nil), a.header...)
	rep.Errors = copyCounts(a.rep.Errors)
	rep.Samples = append([]string(nil), a.rep.Samples...)
	rep.Fingerprint = fmt.Sprintf("%016x", a.fp.Sum64())
	names := a.reducerColumns()
	rep.Columns = make([]ColumnReport, len(a.cols))
	for i, c := range a.cols {
		rep.Columns[i] = c.report(names[i])
	}
	rep.Groups = make([]GroupReport, 0, len(a.order))
	for _, g := range a.order {
		gr := GroupReport{Key: g.key, Rows: g.rows, Columns: make([]ColumnReport, len(g.cols))}
		for i, c := range g.cols {
			gr.Columns[i] = c.report(names[i])
		}
		rep.Groups = append(rep.Groups, gr)
	}
	if len(a.rep.Violations) > 0 {
		rep.Violations = make(map[string]map[string]int64, len(a.rep.Violations))
		for col, m := range a.rep.Violations {
			rep.Violations[col] = copyCounts(m)
		}
	}
	return rep
}

func (a *Aggregator) reducerColumns() []string {
	out := make([]string, len(a.opt.Reducers))
	for i, r := range a.opt.Reducers {
		out[i] = r.Column
	}
	return out
}

func (a *Aggregator) finish(outcome string, err error) {
	a.mu.Lock()
	if a.ended {
		a.mu.Unlock()
		return
	}
	a.ended = true
	a.rep.Outcome = outcome
	if err != nil {
		a.rep.Error = err.Error()
	}
	a.mu.Unlock()
	rep := a.Result()
	log.Printf("aggregate: %s", rep.Summary())
	close(a.done)
}

// add folds one record. Callers hold a.mu.
func (a *Aggregator) add(r records.Record) {
	if a.ended || a.err != nil {
		return
	}
	if r.Err != nil {
		a.tagged(records.KindOf(r.Err).String(), r.Err.Error())
		return
	}
	a.fingerprint(r.Fields)
	if !a.ready {
		if a.opt.HasHeader {
			a.header = make([]string, len(r.Fields))
			for i, f := range r.Fields {
				a.header[i] = columnName(f, i)
			}
			a.err = a.resolve()
			return
		}
		if a.err = a.resolve(); a.err != nil {
			return
		}
	}
	if a.width > 0 && len(r.Fields) != a.width {
		a.rep.Rejected++
		a.tagged(errWidth, fmt.Sprintf("record=%d offset=%d: %d fields, want %d", r.Index, r.Offset, len(r.Fields), a.width))
		return
	}
	if !a.check(r) {
		a.rep.Rejected++
		return
	}
	a.rep.Rows++
	for i, c := range a.cols {
		c.add(field(r.Fields, a.redIdx[i]))
	}
	if a.groups != nil {
		key := strings.TrimSpace(field(r.Fields, a.grpIdx))
		g, ok := a.groups[key]
		if !ok {
			g = &group{key: key, cols: make([]*colState, len(a.opt.Reducers))}
			for i, spec := range a.opt.Reducers {
				g.cols[i] = newColState(spec.Ops)
			}
			a.groups[key] = g
			a.order = append(a.order, g)
		}
		g.rows++
		for i, c := range g.cols {
			c.add(field(r.Fields, a.redIdx[i]))
		}
	}
}

func (a *Aggregator) check(r records.Record) bool {
	ok := true
	var names []string
	for i := range a.rules {
		names = a.rules[i].check(names[:0], field(r.Fields, a.ruleIdx[i]))
		if len(names) == 0 {
			continue
		}
		ok = false
		if a.rep.Violations == nil {
			a.rep.Violations = make(map[string]map[string]int64)
		}
		col := a.rules[i].column
		m := a.rep.Violations[col]
		if m == nil {
			m = make(map[string]int64)
			a.rep.Violations[col] = m
		}
		for _, n := range names {
			m[n]++
		}
	}
	if !ok {
		a.tagged(errRule, fmt.Sprintf("record=%d offset=%d: rule violation", r.Index, r.Offset))
	}
	return ok
}

func (a *Aggregator) tagged(kind, msg string) {
	a.rep.Errors[kind]++
	if len(a.rep.Samples) < a.opt.SampleLimit {
		a.rep.Samples = append(a.rep.Samples, msg)
	}
}

// resolve binds reducer, rule and group_by columns to field indexes.
func (a *Aggregator) resolve() error {
	a.ready = true
	a.width = a.opt.ExpectedFields
	if a.width == 0 && a.header != nil {
		a.width = len(a.header)
	}
	a.redIdx = make([]int, len(a.opt.Reducers))
	for i, r := range a.opt.Reducers {
		idx, err := a.index(r.Column)
		if err != nil {
			return err
		}
		a.redIdx[i] = idx
	}
	a.ruleIdx = make([]int, len(a.rules))
	for i, r := range a.rules {
		idx, err := a.index(r.column)
		if err != nil {
			return err
		}
		a.ruleIdx[i] = idx
	}
	if a.opt.GroupBy != "" {
		idx, err := a.index(a.opt.GroupBy)
		if err != nil {
			return err
		}
		a.grpIdx = idx
	}
	return nil
}

func (a *Aggregator) index(name string) (int, error) {
	for i, h := range a.header {
		if h == name {
			return i, nil
		}
	}
	for i, h := range a.header {
		if strings.EqualFold(h, name) {
			return i, nil
		}
	}
	if s, ok := strings.CutPrefix(name, "col_"); ok {
		if i, err := strconv.Atoi(s); err == nil && i >= 0 {
			return i, nil
		}
	}
	return -1, fmt.Errorf("aggregate: unknown column %q", name)
}

// fingerprint hashes the field count and every length-prefixed field, so
// ("a,b") and ("ab") differ.
func (a *Aggregator) fingerprint(fields []string) {
	b := binary.AppendUvarint(a.scratch[:0], uint64(len(fields)))
	_, _ = a.fp.Write(b)
	for _, f := range fields {
		b = binary.AppendUvarint(b[:0], uint64(len(f)))
		_, _ = a.fp.Write(b)
		_, _ = a.fp.WriteString(f)
	}
	a.scratch = b
}

func field(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}
	return fields[i]
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
