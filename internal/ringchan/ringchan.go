// Package ringchan provides a bounded channel with overwrite-oldest semantics.
package ringchan

import "sync/atomic"

// RingChannel wraps a buffered channel so producers never block: when the
// buffer is full the oldest element is discarded to make room.
//
// Producers call Send; consumers read C() like a normal channel. Send never
// stalls the host stack's callback goroutine.
//
//	rc := ringchan.New[int](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(i)
//	}
//	for rc.Len() > 0 {
//	    fmt.Println(<-rc.C()) // 7, 8, 9
//	}
type RingChannel[T any] struct {
	ch      chan T
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// Reports whether an element was dropped. Never blocks.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	for {
		select {
		case rc.ch <- v:
			atomic.AddInt64(&rc.metrics.Written, 1)
			return dropped
		default:
		}

		// Full: make room. A concurrent consumer may have emptied a slot
		// already, so the receive is non-blocking too.
		select {
		case <-rc.ch:
			atomic.AddInt64(&rc.metrics.Overwritten, 1)
			dropped = true
		default:
		}
	}
}

// Drain discards everything currently buffered and returns the count.
func (rc *RingChannel[T]) Drain() int {
	n := 0
	for {
		select {
		case <-rc.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Metrics returns a snapshot of the counters.
func (rc *RingChannel[T]) Metrics() Metrics {
	return Metrics{
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
	}
}

// Metrics counts ring channel traffic.
type Metrics struct {
	Written     int64
	Overwritten int64
}
