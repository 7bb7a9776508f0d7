package forest

import (
	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
	"github.com/RuiPMaia/mergeforest-sim/internal/portfabric"
)

const invalidLane = -1

// MergeUnit pairs one MergeTree with the task staging (cur/next) and
// write-back path a PE has in internal/baseline: a merge tree never
// stalls on dispatch once data is flowing, since the next task is
// already staged by the time the current one drains.
//
// Grounded on merge_tree_manager.cpp's per-tree scheduling loop, §4.7.
// Partial-fiber inputs are drained directly from the shared
// PartialPool rather than round-tripped through the linked-list
// cache (see llcache.go's doc comment and DESIGN.md) — only B-slice
// inputs issue CacheReadReq traffic.
type MergeUnit struct {
	tree              *MergeTree
	elemSize          memproto.Address
	inputBufCap       int
	outputBufferBytes memproto.Address

	// c and cBase let writeBack address the final destination's
	// actual ColIdx/Values slots (and RowEnd, for a result row whose
	// upper-bound allocation overapproximated its true size), the
	// same way internal/baseline.PE does.
	c     *matrix.CSR
	cBase memproto.Address

	Cur, Next       Task
	HasCur, HasNext bool
	CurTaskFinished bool

	numBytesWrite memproto.Address
	writeAddr     memproto.Address
	pendingC      []Element

	rrInput int

	ReadPort     *portfabric.Port[CacheReadReq, CacheReadResp]
	MemWritePort *mainmem.RequesterPort

	outstandingReadLane int

	IdleCycles       uint64
	WriteStallCycles uint64
	Mults            uint64
	ElementsOut      uint64
}

// NewMergeUnit creates a unit over a tree of the given leaf count and
// merger width. c is the shared result matrix a tree whose root
// drains straight to the final C row (DestFinal) writes into.
func NewMergeUnit(treeSize, width int, elemSize memproto.Address, inputBufCap int, outputBufferBytes memproto.Address, c *matrix.CSR, cBase memproto.Address, name string) *MergeUnit {
	return &MergeUnit{
		tree:                NewMergeTree(treeSize, width),
		elemSize:            elemSize,
		inputBufCap:         inputBufCap,
		outputBufferBytes:   outputBufferBytes,
		c:                   c,
		cBase:               cBase,
		ReadPort:            portfabric.NewPortT[CacheReadReq, CacheReadResp](name + ".read"),
		MemWritePort:        mainmem.NewRequesterPort(name + ".memwrite"),
		outstandingReadLane: invalidLane,
	}
}

// LoadTask stages a task into cur (if idle) or next (if cur is
// occupied but next is free), seeding every tree leaf from the
// task's inputs and marking unused leaves (a task with fewer than
// merge_tree_size inputs) as immediately exhausted.
func (mu *MergeUnit) LoadTask(t Task) bool {
	if !mu.HasCur {
		mu.Cur, mu.HasCur = t, true
		mu.seedTree(&mu.Cur)
		mu.writeAddr = t.Dest.WriteAddr
		return true
	}
	if !mu.HasNext {
		mu.Next, mu.HasNext = t, true
		return true
	}
	return false
}

func (mu *MergeUnit) seedTree(t *Task) {
	mu.tree.Reset()
	for i := range mu.tree.Inputs {
		if i < len(t.Inputs) {
			mu.tree.Inputs[i] = t.Inputs[i]
		} else {
			mu.tree.Inputs[i] = InputFiber{Finished: true}
			mu.tree.nodes[mu.tree.leafIdx(i)].Last = true
		}
	}
}

// Update runs partial-input draining, cache-request arbitration, tree
// progress, and write-back for one cycle.
func (mu *MergeUnit) Update(pool *PartialPool, headFor func(memproto.Address) (uint32, bool)) {
	mu.drainPartialInputs(pool)
	mu.arbitrateCacheRequest(headFor)
	mu.stepTree()
	mu.writeBack(pool)
}

// Apply drains the read/write response ports.
func (mu *MergeUnit) Apply() {
	if resp, ok := mu.ReadPort.TakeMsgRecv(); ok {
		lane := mu.outstandingReadLane
		if lane >= 0 && lane < len(mu.tree.Inputs) {
			f := &mu.tree.Inputs[lane]
			for _, e := range resp.Data {
				mu.tree.nodes[mu.tree.leafIdx(lane)].Append(e.ColIdx, f.AValue*e.Value)
				mu.Mults++
			}
			f.HeadPtr = resp.RowPtr
			f.requested = false
			if resp.RowPtr == InvalidHeadPtr {
				f.Finished = true
				mu.tree.nodes[mu.tree.leafIdx(lane)].Last = true
			}
		}
		mu.outstandingReadLane = invalidLane
	}
	if _, ok := mu.MemWritePort.TakeMsgRecv(); ok {
	}
}

func (mu *MergeUnit) drainPartialInputs(pool *PartialPool) {
	for i := range mu.tree.Inputs {
		f := &mu.tree.Inputs[i]
		if f.Kind != InputPartial || f.Finished {
			continue
		}
		p := pool.Get(f.PartialIdx)
		if p.Data.Len() > 0 {
			leaf := &mu.tree.nodes[mu.tree.leafIdx(i)]
			for k := range p.Data.ColIdx {
				leaf.Append(p.Data.ColIdx[k], p.Data.Values[k])
			}
			p.Data.Reset()
		}
		if p.Finished && p.Data.Len() == 0 {
			f.Finished = true
			mu.tree.nodes[mu.tree.leafIdx(i)].Last = true
		}
	}
}

// arbitrateCacheRequest fetches at most one cache block per cycle,
// round-robin over B-slice lanes still needing a head pointer or
// mid-chain data.
func (mu *MergeUnit) arbitrateCacheRequest(headFor func(memproto.Address) (uint32, bool)) {
	if mu.ReadPort.HasMsgSend() || mu.outstandingReadLane != invalidLane {
		return
	}
	n := len(mu.tree.Inputs)
	for i := 0; i < n; i++ {
		lane := (mu.rrInput + i) % n
		f := &mu.tree.Inputs[lane]
		if f.Kind != InputBSlice || f.Finished || f.requested {
			continue
		}
		leaf := &mu.tree.nodes[mu.tree.leafIdx(lane)]
		if leaf.Len()+int(memproto.BlockSize) > mu.inputBufCap {
			continue
		}
		head := f.HeadPtr
		if head == InvalidHeadPtr {
			h, ok := headFor(f.Begin)
			if !ok {
				continue
			}
			head = h
		}
		f.requested = true
		mu.ReadPort.AddMsgSend(CacheReadReq{RowPtr: head})
		mu.ReadPort.Transfer()
		mu.outstandingReadLane = lane
		mu.rrInput = (lane + 1) % n
		return
	}
}

func (mu *MergeUnit) stepTree() {
	if !mu.HasCur {
		mu.IdleCycles++
		return
	}
	// A DestDynSource task leaves its root for a DynamicNode's
	// Fiber_Source to drain directly, so its headroom is gated by the
	// root buffer's own occupancy rather than the write-back queue.
	var outputRoom int
	if mu.Cur.Dest.Kind == DestDynSource {
		outputRoom = int(mu.outputBufferBytes/mu.elemSize) - mu.tree.Root().Len()
	} else {
		outputRoom = int((mu.outputBufferBytes - mu.numBytesWrite) / mu.elemSize)
	}
	if outputRoom <= 0 {
		mu.WriteStallCycles++
		return
	}
	before := mu.tree.Root().Len()
	mu.tree.Step(outputRoom)
	after := mu.tree.Root().Len()
	if mu.Cur.Dest.Kind != DestDynSource && after > before {
		mu.drainRoot(after - before)
	}
	if mu.tree.Root().Len() == 0 && mu.tree.Root().Last {
		mu.CurTaskFinished = true
	}
}

func (mu *MergeUnit) drainRoot(n int) {
	root := mu.tree.Root()
	for i := 0; i < n; i++ {
		col, val, ok := root.Head()
		if !ok {
			break
		}
		mu.pendingC = append(mu.pendingC, Element{ColIdx: col, Value: val})
		root.Pop()
		mu.numBytesWrite += mu.elemSize
		mu.ElementsOut++
	}
}

// writeBack drains flushed root output one element at a time to
// either main memory (a final C row) or directly into the shared
// PartialPool slot (a non-final task's output), then rolls the
// staged next task into cur once cur has fully drained.
func (mu *MergeUnit) writeBack(pool *PartialPool) {
	for mu.numBytesWrite >= mu.elemSize && len(mu.pendingC) > 0 {
		if mu.Cur.Dest.Kind == DestFinal {
			if mu.MemWritePort.HasMsgSend() {
				break
			}
			elem := mu.pendingC[0]
			idx := int((mu.writeAddr - mu.cBase) / mu.elemSize)
			mu.c.ColIdx[idx] = elem.ColIdx
			if len(mu.c.Values) > 0 {
				mu.c.Values[idx] = elem.Value
			}
			mu.MemWritePort.AddMsgSend(memproto.MemRequest{Address: mu.writeAddr, IsWrite: true})
			mu.MemWritePort.Transfer()
		} else {
			p := pool.Get(mu.Cur.Dest.PartialIdx)
			p.Data.Append(mu.pendingC[0].ColIdx, mu.pendingC[0].Value)
		}
		mu.writeAddr += mu.elemSize
		mu.pendingC = mu.pendingC[1:]
		mu.numBytesWrite -= mu.elemSize
	}

	if mu.CurTaskFinished && mu.numBytesWrite == 0 && len(mu.pendingC) == 0 {
		switch mu.Cur.Dest.Kind {
		case DestPartial:
			pool.Get(mu.Cur.Dest.PartialIdx).Finished = true
		case DestFinal:
			if mu.c.RowEnd != nil {
				mu.c.RowEnd[mu.Cur.Dest.CRowIdx+1] = uint32((mu.writeAddr - mu.cBase) / mu.elemSize)
			}
		}
		mu.freeConsumedPartials(pool)
		mu.Cur = mu.Next
		mu.HasCur = mu.HasNext
		mu.Next = Task{}
		mu.HasNext = false
		mu.CurTaskFinished = false
		if mu.HasCur {
			mu.seedTree(&mu.Cur)
			mu.writeAddr = mu.Cur.Dest.WriteAddr
		}
	}
}

// freeConsumedPartials releases every partial-pool slot the
// just-finished task drained, mirroring internal/baseline's equivalent
// PE-side release once a C_Partial_Fiber's last chunk is consumed.
func (mu *MergeUnit) freeConsumedPartials(pool *PartialPool) {
	for i := range mu.Cur.Inputs {
		f := &mu.Cur.Inputs[i]
		if f.Kind == InputPartial {
			pool.Free(f.PartialIdx)
		}
	}
}
