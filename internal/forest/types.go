// Package forest implements the merge-forest accelerator ("my_arch"
// in the configuration file): K shared merge trees feeding a layer of
// dynamic nodes, backed by a row-granularity linked-list cache.
//
// Grounded on original_source/mergeforest-sim/mergeforest/{merge_tree,
// merge_tree_manager,linked_list_cache,matB_fetcher}.{hpp,cpp}, spec
// §4.7-4.8.
package forest

import "github.com/RuiPMaia/mergeforest-sim/internal/memproto"

// Element is one (column index, value) pair flowing through a tree.
type Element struct {
	ColIdx uint32
	Value  float64
}

// FiberBuffer is the FIFO every merge-tree node and dynamic node reads
// from and writes to: parallel column-index/value deques plus a Last
// flag marking end-of-stream.
type FiberBuffer struct {
	ColIdx []uint32
	Values []float64
	Last   bool
}

func (b *FiberBuffer) Len() int { return len(b.ColIdx) }

func (b *FiberBuffer) Append(col uint32, val float64) {
	b.ColIdx = append(b.ColIdx, col)
	b.Values = append(b.Values, val)
}

func (b *FiberBuffer) Head() (uint32, float64, bool) {
	if len(b.ColIdx) == 0 {
		return 0, 0, false
	}
	return b.ColIdx[0], b.Values[0], true
}

func (b *FiberBuffer) Pop() {
	b.ColIdx = b.ColIdx[1:]
	b.Values = b.Values[1:]
}

// ReadyToMerge reports whether this buffer has accumulated at least
// width items, or has already drained to completion.
func (b *FiberBuffer) ReadyToMerge(width int) bool {
	return len(b.ColIdx) >= width || b.Last
}

func (b *FiberBuffer) Reset() {
	b.ColIdx = b.ColIdx[:0]
	b.Values = b.Values[:0]
	b.Last = false
}

// InputKind tags an Input_Fiber the same way baseline's InputFiber
// does: either raw B data or a pooled partial fiber.
type InputKind int

const (
	InputBSlice InputKind = iota
	InputPartial
)

// InputFiber is one of a merge tree's up-to-merge_tree_size operand
// streams.
type InputFiber struct {
	Kind InputKind

	AValue float64

	// B-slice state: Begin/End identify the B row's byte span (Begin
	// doubles as the linked-list cache's row key); HeadPtr is the
	// current block handle once a read has been issued, with
	// memproto.InvalidIndex marking end-of-chain.
	Begin, End memproto.Address
	HeadPtr    uint32
	requested  bool

	// Partial state.
	PartialIdx uint32

	Buf      []Element
	Finished bool
}

const InvalidHeadPtr = memproto.InvalidIndex

// DestKind tags a subtask's output sink.
type DestKind int

const (
	// DestFinal writes to the final C row in main memory.
	DestFinal DestKind = iota
	// DestPartial writes into a pooled C-partial fiber.
	DestPartial
	// DestDynSource means the task's tree root is read directly by a
	// DynamicNode's Fiber_Source — nothing drains it on the tree side.
	DestDynSource
)

// TaskDest is a subtask's output sink: the final C row, a pooled
// partial fiber, or (when a wide row is split across several merge
// trees) a dynamic node's input, mirroring baseline's TaskDest plus
// the one sink baseline never needs.
type TaskDest struct {
	Kind       DestKind
	CRowIdx    uint32
	WriteAddr  memproto.Address
	PartialIdx uint32
}

// Task is one merge tree's unit of work: up to merge_tree_size input
// fibers merging down to a single output sink.
type Task struct {
	Valid  bool
	Inputs []InputFiber
	Dest   TaskDest
}

// CPartialFiber is a Forest pool slot: a streaming Fiber_Buffer plus
// the linked-list-cache head pointer assigned once its first spill
// block has been written.
type CPartialFiber struct {
	InUse    bool
	Data     FiberBuffer
	HeadPtr  uint32
	Finished bool
}

func (p *CPartialFiber) reset() {
	p.InUse = false
	p.Data.Reset()
	p.HeadPtr = InvalidHeadPtr
	p.Finished = false
}
