package pipeline

import (
	"fmt"

	"github.com/jwindhaber/async-csv/internal/records"
)

// ParsedChunk is the output of parsing one chunk.
type ParsedChunk struct {
	Seq     uint64
	Records []records.Record
	// Err is set when the chunk could not be produced at all (its bytes could
	// not be read). It ends the stream.
	Err error
}

// reassembler restores source order over parsed chunks that complete in any
// order. It is owned by the delivery loop and needs no locking.
type reassembler struct {
	next uint64
	held map[uint64]ParsedChunk
	max  int // bound on held chunks other than next
}

func newReassembler(maxPending int) *reassembler {
	return &reassembler{held: make(map[uint64]ParsedChunk, maxPending+1), max: maxPending}
}

// add stores pc until its turn comes. A stale or duplicate sequence number,
// or a holding area past its bound, is an InternalConsistency error.
func (r *reassembler) add(pc ParsedChunk) error {
	if pc.Seq < r.next {
		return r.violation(pc.Seq, fmt.Sprintf("chunk %d delivered after %d was emitted", pc.Seq, r.next-1))
	}
	if _, dup := r.held[pc.Seq]; dup {
		return r.violation(pc.Seq, fmt.Sprintf("chunk %d delivered twice", pc.Seq))
	}
	r.held[pc.Seq] = pc
	if r.outOfOrder() > r.max {
		return r.violation(pc.Seq, fmt.Sprintf("holding %d out-of-order chunks, bound is %d", r.outOfOrder(), r.max))
	}
	return nil
}

// pop returns the chunk at nextExpected, if it has arrived.
func (r *reassembler) pop() (ParsedChunk, bool) {
	pc, ok := r.held[r.next]
	if !ok {
		return ParsedChunk{}, false
	}
	delete(r.held, r.next)
	r.next++
	return pc, true
}

// drained reports whether every chunk of a source with total chunks has
// been emitted.
func (r *reassembler) drained(total uint64) bool {
	return r.next == total && len(r.held) == 0
}

// gap describes why the reassembler cannot drain once no more chunks will
// arrive.
func (r *reassembler) gap(total uint64) error {
	return r.violation(r.next, fmt.Sprintf("stream ended at chunk %d of %d with %d held", r.next, total, len(r.held)))
}

func (r *reassembler) pending() int { return len(r.held) }

func (r *reassembler) outOfOrder() int {
	n := len(r.held)
	if _, ok := r.held[r.next]; ok {
		n--
	}
	return n
}

func (r *reassembler) violation(seq uint64, msg string) error {
	return records.New(records.InternalConsistency, seq, msg)
}
