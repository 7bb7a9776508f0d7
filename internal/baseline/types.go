// Package baseline implements the row-merge accelerator ("gamma" in
// the configuration file): a radix-R array of processing elements,
// each a multi-way merger, fed by a task tree that decomposes wide
// A-row merges into radix-sized subtasks, backed by a set-associative
// fiber cache.
//
// Grounded on original_source/mergeforest-sim/gamma/PE_manager.{hpp,cpp}
// and gamma/fiber_cache.{hpp,cpp}, generalized from the original's
// process-wide static counters (design note "Global mutable counters")
// into explicit fields on Manager, reset in Reset and read by Stats.
package baseline

import "github.com/RuiPMaia/mergeforest-sim/internal/memproto"

// Element is one (column index, value) pair flowing through a
// merger.
type Element struct {
	ColIdx uint32
	Value  float64
}

// InputKind tags an InputFiber as streaming from B's data or from a
// pooled partial fiber (design note "Variant inputs").
type InputKind int

const (
	InputBSlice InputKind = iota
	InputPartial
)

// InputFiber is one of a task's up to-radix operand streams.
type InputFiber struct {
	Kind InputKind

	AValue float64

	// BSlice state: the remaining, not-yet-fetched byte span of the
	// B row (Begin moves to each cache response's End when that
	// response arrives; End is fixed).
	Begin, End memproto.Address

	// Partial state: the pool slot this input drains.
	FiberIdx uint32

	Buf       []Element
	Finished  bool
	requested bool // a cache read is outstanding for this input
}

func (f *InputFiber) head() (Element, bool) {
	if len(f.Buf) == 0 {
		return Element{}, false
	}
	return f.Buf[0], true
}

func (f *InputFiber) pop() { f.Buf = f.Buf[1:] }

// exhausted reports whether this input will never produce another
// element: it is marked finished and its buffer has drained.
func (f *InputFiber) exhausted() bool { return f.Finished && len(f.Buf) == 0 }

// TaskDest is a task's output sink: either the final C row, or a
// pooled partial fiber (design note "Variant inputs" / OutputDest).
type TaskDest struct {
	IsFinal    bool
	CRowIdx    uint32
	WriteAddr  memproto.Address // next C element slot, or partial's Begin
	PartialIdx uint32
}

// Task is up to PERadix input fibers merging into one destination.
type Task struct {
	Valid     bool
	Inputs    []InputFiber
	Dest      TaskDest
	Finished  bool
}

// CPartialFiber is a pool slot holding an intermediate merge result
// produced when an A row's fan-in exceeds PERadix. Unlike the
// original's C_Partial_Fiber, which kept the elements in an in-memory
// deque and used begin/end only to model cache residency, this slot's
// data lives in the fiber cache itself at [Begin, End): the producing
// PE's write port and the consuming PE's read port are the same cache
// ports B data flows through, so Begin/End are the real cursor, not a
// cost-model shadow. Begin is fixed at alloc time; End grows as the
// producer writes, Finished marks that no more writes are coming.
type CPartialFiber struct {
	InUse    bool
	Begin    memproto.Address
	End      memproto.Address
	Finished bool
}

func (p *CPartialFiber) reset() {
	p.InUse = false
	p.Begin = memproto.InvalidAddress
	p.End = memproto.InvalidAddress
	p.Finished = false
}
