// Package ring provides a bounded single-producer, single-consumer FIFO
// with blocking send/receive built on edge notifications.
package ring

import (
	"context"
	"sync/atomic"
	"time"

	"doorbell-go/errcode"
)

// Ring is a single-producer, single-consumer queue of T.
// Exactly one goroutine may call Send and exactly one may call Receive.
type Ring[T any] struct {
	buf  []T
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)

	readable chan struct{} // 0->>0 available edge
	writable chan struct{} // full->not full edge

	closed atomic.Bool
	done   chan struct{}
}

// New returns a ring holding up to size elements. size is rounded up to a
// power of two (minimum 2).
func New[T any](size int) *Ring[T] {
	n := 2
	for n < size {
		n <<= 1
	}
	return &Ring[T]{
		buf:      make([]T, n),
		mask:     uint32(n - 1),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (r *Ring[T]) size() uint32 { return uint32(len(r.buf)) }

// Cap is the number of elements the ring can hold.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len is the number of queued elements.
func (r *Ring[T]) Len() int {
	rd := r.rd.Load()
	wr := r.wr.Load()
	return int(wr - rd)
}

// Producer side

// TrySend enqueues v without blocking. It reports false when full.
func (r *Ring[T]) TrySend(v T) bool {
	rd := r.rd.Load()
	wr := r.wr.Load()
	beforeAvail := wr - rd
	if beforeAvail >= r.size() {
		return false
	}
	r.buf[wr&r.mask] = v
	r.wr.Store(wr + 1) // release

	if beforeAvail == 0 {
		select {
		case r.readable <- struct{}{}:
		default:
		}
	}
	return true
}

// Send enqueues v, blocking only while the ring is full. It fails with
// errcode.Closed once the consumer has closed the ring and with
// errcode.QueueFull when ctx ends first.
func (r *Ring[T]) Send(ctx context.Context, v T) error {
	for {
		if r.closed.Load() {
			return errcode.Closed
		}
		if r.TrySend(v) {
			return nil
		}
		select {
		case <-r.writable:
		case <-r.done:
		case <-ctx.Done():
			return &errcode.E{C: errcode.QueueFull, Op: "ring.send", Err: ctx.Err()}
		}
	}
}

// Consumer side

// TryReceive dequeues the oldest element without blocking.
func (r *Ring[T]) TryReceive() (T, bool) {
	var zero T
	rd := r.rd.Load()
	wr := r.wr.Load() // acquire
	if wr == rd {
		return zero, false
	}
	i := rd & r.mask
	v := r.buf[i]
	r.buf[i] = zero
	r.rd.Store(rd + 1) // release

	if wr-rd == r.size() {
		select {
		case r.writable <- struct{}{}:
		default:
		}
	}
	return v, true
}

// Receive waits up to timeout for an element. It returns false on timeout,
// on ctx cancellation, or when the ring is closed and empty.
func (r *Ring[T]) Receive(ctx context.Context, timeout time.Duration) (T, bool) {
	if v, ok := r.TryReceive(); ok {
		return v, true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case <-r.readable:
			if v, ok := r.TryReceive(); ok {
				return v, true
			}
		case <-t.C:
			return r.TryReceive()
		case <-ctx.Done():
			var zero T
			return zero, false
		case <-r.done:
			return r.TryReceive()
		}
	}
}

// Close marks the consumer as gone. Pending and future Sends fail with
// errcode.Closed. Safe to call more than once.
func (r *Ring[T]) Close() {
	if r.closed.CompareAndSwap(false, true) {
		close(r.done)
	}
}

// Closed reports whether Close has been called.
func (r *Ring[T]) Closed() bool { return r.closed.Load() }
