package pipeline

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/jwindhaber/async-csv/internal/records"
)

// Subscriber consumes the ordered record stream.
//
// All callbacks are made from the goroutine that called Pipeline.Run, one at
// a time. Exactly one of OnError or OnComplete ends the stream.
type Subscriber interface {
	// OnSubscribe hands over the Subscription before any record. Nothing is
	// delivered until the subscriber requests demand.
	OnSubscribe(Subscription)
	// OnRecord receives the next record in source order. Records with a
	// non-nil Err are tagged errors (bad row, malformed tail, chunk timeout).
	OnRecord(records.Record)
	// OnError ends the stream with a fatal error.
	OnError(error)
	// OnComplete ends the stream after the last record, or acknowledges a
	// Cancel.
	OnComplete()
}

// Subscription is the subscriber's handle on the stream. Both methods are
// safe to call from any goroutine, including from inside callbacks.
type Subscription interface {
	// Request grants n more records of demand. n <= 0 is ignored.
	Request(n int64)
	// Cancel stops the stream. Cancel is idempotent.
	Cancel()
}

// State is the delivery state of the bridge.
type State int32

const (
	// Idle: no record is ready for delivery.
	Idle State = iota
	// Delivering: records are being handed to the subscriber.
	Delivering
	// Suspended: records are ready but the subscriber has no demand left.
	Suspended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Delivering:
		return "delivering"
	case Suspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// subscription carries demand credit from the subscriber to the delivery
// loop. Request never calls back into the subscriber; it adds credit and
// wakes the loop.
type subscription struct {
	credit atomic.Int64
	wake   chan struct{} // capacity 1; a pending token means "re-check credit"

	cancelOnce sync.Once
	cancelled  chan struct{}
}

func newSubscription() *subscription {
	return &subscription{
		wake:      make(chan struct{}, 1),
		cancelled: make(chan struct{}),
	}
}

func (s *subscription) Request(n int64) {
	if n <= 0 {
		return
	}
	for {
		cur := s.credit.Load()
		next := cur + n
		if next < cur { // saturate instead of wrapping
			next = math.MaxInt64
		}
		if s.credit.CompareAndSwap(cur, next) {
			break
		}
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelled) })
}

// take consumes one unit of credit. It never drives credit below zero.
func (s *subscription) take() bool {
	for {
		cur := s.credit.Load()
		if cur <= 0 {
			return false
		}
		if s.credit.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

func (s *subscription) isCancelled() bool {
	select {
	case <-s.cancelled:
		return true
	default:
		return false
	}
}
