// File: pool/ring.go
// Author: vela-run contributors
// License: Apache-2.0
//
// RingBuffer is a lock-free fixed-capacity queue suited to a bounded handoff
// backlog, such as accepted fds passed from one acceptor fiber to several
// connection fibers. No other package in this module uses it. That shape is
// multi-consumer — several fibers drain the same backlog concurrently —
// which a single-producer/single-consumer ring (plain atomic increments
// racing on the same slot, no per-slot ownership) cannot safely support.
// This is Dmitry Vyukov's bounded MPMC queue: each slot carries its
// own sequence number, and a CAS claims a slot before anyone writes or reads
// it, so concurrent producers and concurrent consumers never touch the same
// cell at once.
package pool

import "sync/atomic"

type ringCell[T any] struct {
	seq atomic.Uint64
	val T
}

// RingBuffer is a lock-free fixed-capacity ring buffer (power-of-two size),
// safe for any number of concurrent producers and consumers.
type RingBuffer[T any] struct {
	mask  uint64
	cells []ringCell[T]
	enq   atomic.Uint64
	deq   atomic.Uint64
}

// NewRingBuffer allocates a ring buffer with size (must be power of two).
func NewRingBuffer[T any](size uint64) *RingBuffer[T] {
	if size == 0 || (size&(size-1)) != 0 {
		panic("ring buffer size must be power of two")
	}
	r := &RingBuffer[T]{
		mask:  size - 1,
		cells: make([]ringCell[T], size),
	}
	for i := range r.cells {
		r.cells[i].seq.Store(uint64(i))
	}
	return r
}

// Enqueue adds an item; returns false if full. Safe for concurrent callers.
func (r *RingBuffer[T]) Enqueue(val T) bool {
	pos := r.enq.Load()
	for {
		cell := &r.cells[pos&r.mask]
		seq := cell.seq.Load()
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if r.enq.CompareAndSwap(pos, pos+1) {
				cell.val = val
				cell.seq.Store(pos + 1)
				return true
			}
			pos = r.enq.Load()
		case diff < 0:
			return false
		default:
			pos = r.enq.Load()
		}
	}
}

// Dequeue removes and returns (item, ok); ok==false if empty. Safe for
// concurrent callers.
func (r *RingBuffer[T]) Dequeue() (res T, ok bool) {
	pos := r.deq.Load()
	for {
		cell := &r.cells[pos&r.mask]
		seq := cell.seq.Load()
		switch diff := int64(seq) - int64(pos+1); {
		case diff == 0:
			if r.deq.CompareAndSwap(pos, pos+1) {
				res = cell.val
				cell.seq.Store(pos + r.mask + 1)
				return res, true
			}
			pos = r.deq.Load()
		case diff < 0:
			return res, false
		default:
			pos = r.deq.Load()
		}
	}
}

// Len returns an instantaneous estimate of the number of items in the
// buffer; under concurrent access it may be stale by the time it's read.
func (r *RingBuffer[T]) Len() int {
	return int(r.enq.Load() - r.deq.Load())
}

// Cap returns logical buffer capacity.
func (r *RingBuffer[T]) Cap() int {
	return len(r.cells)
}
