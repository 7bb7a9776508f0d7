// Package arrayfetcher streams a logically contiguous, fixed-element
// array out of main memory into a small window, committing elements
// to the window strictly in address (FIFO) order regardless of the
// order memory replies arrive in.
//
// This is the generic counterpart of the original
// Array_Fetcher<T> template (mergeforest-sim/array_fetcher.hpp):
// each preprocessed-A stream (the combined row records, the A values,
// and the B-row-span pairs) is read through one instantiation of this
// type.
// It is the "canonical template" design notes call out for every
// other explicit state machine in the simulator: no coroutines, a
// bounded pending-request FIFO, and commit-on-contiguous-completion.
package arrayfetcher

import "github.com/RuiPMaia/mergeforest-sim/internal/memproto"

type pendingRequest struct {
	address memproto.Address
	numBytes int
	done     bool
}

// Fetcher streams Data, a backing array already resident in the
// simulator's model of main memory, into a bounded window of at most
// BufferSize elements. Data itself is never mutated; Fetcher only
// tracks which prefix of it has been "fetched" and is visible in the
// window.
type Fetcher[T any] struct {
	Data       []T
	ElemSize   int
	BufferSize int

	baseAddr      memproto.Address
	nextFetchAddr memproto.Address
	endAddr       memproto.Address
	committedBytes int

	pending []pendingRequest
	window  []T
}

// New creates a fetcher over data, whose elements are ElemSize bytes
// each and are laid out starting at baseAddr, with a window capacity
// of bufferSize elements.
func New[T any](data []T, elemSize int, baseAddr memproto.Address, bufferSize int) *Fetcher[T] {
	f := &Fetcher[T]{
		Data:       data,
		ElemSize:   elemSize,
		BufferSize: bufferSize,
	}
	f.Reset(baseAddr)
	return f
}

// Reset rebinds the fetcher to baseAddr and clears all in-flight
// state, for reuse across rows/runs without reallocating.
func (f *Fetcher[T]) Reset(baseAddr memproto.Address) {
	f.baseAddr = baseAddr
	f.nextFetchAddr = baseAddr
	f.endAddr = baseAddr + memproto.Address(len(f.Data)*f.ElemSize)
	f.committedBytes = 0
	f.pending = f.pending[:0]
	f.window = f.window[:0]
}

func (f *Fetcher[T]) elemsPerTransaction() int {
	n := memproto.MemTransactionSize / f.ElemSize
	if n < 1 {
		n = 1
	}
	return n
}

// GetFetchAddress returns the next transaction-aligned address to
// issue a read for, and records it as outstanding. It returns
// (memproto.InvalidAddress, false) when the stream is exhausted or
// the window has no more room to reserve for another outstanding
// transaction.
func (f *Fetcher[T]) GetFetchAddress() (memproto.Address, bool) {
	if f.nextFetchAddr >= f.endAddr {
		return memproto.InvalidAddress, false
	}

	elemsPerTx := f.elemsPerTransaction()
	reserved := len(f.window) + len(f.pending)*elemsPerTx
	if reserved+elemsPerTx > f.BufferSize {
		return memproto.InvalidAddress, false
	}

	addr := f.nextFetchAddr
	bytesThisTx := memproto.MemTransactionSize - int(addr%memproto.Address(memproto.MemTransactionSize))
	if remaining := int(f.endAddr - addr); bytesThisTx > remaining {
		bytesThisTx = remaining
	}
	f.nextFetchAddr += memproto.Address(bytesThisTx)
	f.pending = append(f.pending, pendingRequest{address: addr, numBytes: bytesThisTx})

	return addr, true
}

// ReceiveData marks the outstanding request at address as complete,
// then commits every contiguous run of completed requests at the
// front of the pending FIFO into the window, in order.
func (f *Fetcher[T]) ReceiveData(address memproto.Address) {
	for i := range f.pending {
		if f.pending[i].address == address && !f.pending[i].done {
			f.pending[i].done = true
			break
		}
	}

	for len(f.pending) > 0 && f.pending[0].done {
		req := f.pending[0]
		f.pending = f.pending[1:]

		// An element whose ElemSize doesn't divide MemTransactionSize
		// can straddle a transaction boundary; it only becomes whole
		// once the transaction carrying its last byte arrives. Commit
		// by comparing committed-byte boundaries, not per-transaction
		// byte/ElemSize division, so a straddling element is credited
		// exactly once, on the transaction that completes it.
		startElem := f.committedBytes / f.ElemSize
		newCommittedBytes := f.committedBytes + req.numBytes
		endElem := newCommittedBytes / f.ElemSize
		if endElem > startElem {
			f.window = append(f.window, f.Data[startElem:endElem]...)
		}
		f.committedBytes = newCommittedBytes
	}
}

// NumElements returns how many elements are currently visible in the
// window.
func (f *Fetcher[T]) NumElements() int { return len(f.window) }

// Front returns the first element in the window.
func (f *Fetcher[T]) Front() T { return f.window[0] }

// At returns the i'th element in the window.
func (f *Fetcher[T]) At(i int) T { return f.window[i] }

// Pop removes the first element from the window.
func (f *Fetcher[T]) Pop() {
	f.window = f.window[1:]
}

// Finished reports whether the entire array has been fetched,
// delivered, and consumed: nothing left to request, nothing
// outstanding, and nothing left in the window.
func (f *Fetcher[T]) Finished() bool {
	return f.nextFetchAddr >= f.endAddr && len(f.pending) == 0 && len(f.window) == 0
}
