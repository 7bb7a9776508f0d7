package forest

import (
	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
)

// FiberSource identifies one dynamic node's operand: either a merge
// tree's root output or another dynamic node's output buffer.
//
// Grounded on Fiber_Source (merge_tree_manager.hpp): the original
// tags a dynamic-node operand by leaving task_idx at UINT_MAX; this
// port spells that out with an explicit Dyn flag instead.
type FiberSource struct {
	Valid bool
	Dyn   bool
	Index int
}

// DynamicNode folds up to two FiberSources — merge-tree roots, or
// other dynamic nodes' outputs — into one stream. A node's own output
// can itself feed a further node, so NumMergeTrees-1 of them are
// enough to reduce any number of concurrently running tree roots down
// to the one stream a wide A row's result needs.
//
// Grounded on Dynamic_Tree_Node / update_dynamic_nodes
// (merge_tree_manager.{hpp,cpp}), §4.7's dynamic reduction layer. Its
// per-cycle step mirrors do_merge_add one element at a time, the same
// granularity internal/forest.MergeTree already runs its own internal
// merges at, rather than the original's bursty up-to-width loop.
type DynamicNode struct {
	Data FiberBuffer
	Src1 FiberSource
	Src2 FiberSource

	Dest    TaskDest
	HasDest bool

	numBytesWrite memproto.Address
	writeAddr     memproto.Address
	pendingC      []Element

	// c and cBase let writeBack address the final destination's
	// actual ColIdx/Values slots, the same way MergeUnit.writeBack
	// does for a task whose whole row fits in a single tree.
	c     *matrix.CSR
	cBase memproto.Address

	MemWritePort *mainmem.RequesterPort

	Merges      uint64
	Adds        uint64
	ElementsOut uint64
}

// NewDynamicNode creates an idle node, name used for its write port's
// diagnostic name. c is the shared result matrix a node whose output
// is the batch's final fold (DestFinal) writes into.
func NewDynamicNode(c *matrix.CSR, cBase memproto.Address, name string) *DynamicNode {
	return &DynamicNode{c: c, cBase: cBase, MemWritePort: mainmem.NewRequesterPort(name + ".memwrite")}
}

// Empty reports whether this node is free to take on a fresh pair of
// sources.
func (n *DynamicNode) Empty() bool {
	return !n.Src1.Valid && !n.Src2.Valid && !n.HasDest && n.Data.Len() == 0
}

// Reset clears a node for reuse across tasks/runs.
func (n *DynamicNode) Reset() {
	n.Data.Reset()
	n.Src1, n.Src2 = FiberSource{}, FiberSource{}
	n.Dest, n.HasDest = TaskDest{}, false
	n.numBytesWrite, n.writeAddr = 0, 0
	n.pendingC = nil
}

// mergeStep runs one do_merge_add element between two still-valid
// sources.
func (n *DynamicNode) mergeStep(src1, src2 *FiberBuffer) {
	progressed, added := mergeBuffersStep(&n.Data, src1, src2)
	if !progressed {
		return
	}
	n.Merges++
	if added {
		n.Adds++
	}
}

// transferStep streams one element from the single still-valid source
// straight through, for a node that has lost its other operand
// (fiber_buffer_transfer's single-source fallback in do_merge_add).
func (n *DynamicNode) transferStep(src *FiberBuffer) {
	col, val, ok := src.Head()
	if !ok {
		if src.Last {
			n.Data.Last = true
		}
		return
	}
	n.Data.Append(col, val)
	src.Pop()
	if src.Len() == 0 && src.Last {
		n.Data.Last = true
	}
}

// drainToPending moves every element this node has produced into its
// write queue, byte-counted the way internal/forest.MergeUnit counts
// its own root output.
func (n *DynamicNode) drainToPending(elemSize memproto.Address) {
	for n.Data.Len() > 0 {
		col, val, _ := n.Data.Head()
		n.pendingC = append(n.pendingC, Element{ColIdx: col, Value: val})
		n.Data.Pop()
		n.numBytesWrite += elemSize
		n.ElementsOut++
	}
}

// writeBack drains a node's output one element at a time to either
// main memory (a final C row) or the shared PartialPool (an
// intermediate batch's output), then frees the node once its sources
// are exhausted and its queue is empty, mirroring MergeUnit.writeBack.
func (n *DynamicNode) writeBack(elemSize memproto.Address, pool *PartialPool) {
	if !n.HasDest {
		return
	}
	n.drainToPending(elemSize)
	for n.numBytesWrite >= elemSize && len(n.pendingC) > 0 {
		if n.Dest.Kind == DestFinal {
			if n.MemWritePort.HasMsgSend() {
				break
			}
			elem := n.pendingC[0]
			idx := int((n.writeAddr - n.cBase) / elemSize)
			n.c.ColIdx[idx] = elem.ColIdx
			if len(n.c.Values) > 0 {
				n.c.Values[idx] = elem.Value
			}
			n.MemWritePort.AddMsgSend(memproto.MemRequest{Address: n.writeAddr, IsWrite: true})
			n.MemWritePort.Transfer()
		} else {
			p := pool.Get(n.Dest.PartialIdx)
			p.Data.Append(n.pendingC[0].ColIdx, n.pendingC[0].Value)
		}
		n.writeAddr += elemSize
		n.pendingC = n.pendingC[1:]
		n.numBytesWrite -= elemSize
	}

	if n.Data.Len() == 0 && n.Data.Last && !n.Src1.Valid && !n.Src2.Valid &&
		n.numBytesWrite == 0 && len(n.pendingC) == 0 {
		switch n.Dest.Kind {
		case DestPartial:
			pool.Get(n.Dest.PartialIdx).Finished = true
		case DestFinal:
			if n.c.RowEnd != nil {
				n.c.RowEnd[n.Dest.CRowIdx+1] = uint32((n.writeAddr - n.cBase) / elemSize)
			}
		}
		n.HasDest = false
		n.Dest = TaskDest{}
	}
}

// Apply drains the write-response port.
func (n *DynamicNode) Apply() {
	if _, ok := n.MemWritePort.TakeMsgRecv(); ok {
	}
}
