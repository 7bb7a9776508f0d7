package forest

import (
	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
	"github.com/RuiPMaia/mergeforest-sim/internal/portfabric"
	"github.com/RuiPMaia/mergeforest-sim/internal/rowsource"
)

// MergeTreeManager is the Forest front end: it owns every merge unit,
// the dynamic-node reduction layer above them, the shared
// partial-fiber pool, the shared row source, and the task-tree state
// for whichever row is currently being decomposed. An outer task tree
// walks each row down to batches of at most
// NumMergeTrees*MergeTreeSize input fibers; a TaskAllocator then
// spreads one batch across the idle trees and, if it doesn't fit in a
// single tree, folds their roots through the dynamic-node layer down
// to one stream.
//
// Grounded on Merge_Tree_Manager (merge_tree_manager.hpp/.cpp), §4.7.
type MergeTreeManager struct {
	Units    []*MergeUnit
	DynNodes []*DynamicNode
	Pool     *PartialPool
	Rows     *rowsource.Source
	Cache    *LinkedListCache

	Radix            int // merge_tree_size
	MaxRowsMerge     int // merge_tree_size * num_merge_trees, the outer task tree's radix
	NumFinalMergers  int
	FinalMergerWidth int
	ElemSize         memproto.Address
	CAddrElements    memproto.Address
	C                *matrix.CSR

	activeTree *TaskTree
	allocator  *TaskAllocator

	NumTasksIssued uint64
}

// NewMergeTreeManager builds a manager with numTrees merge trees of
// the given leaf count and merger width, and numTrees-1 dynamic nodes
// to fold their roots together. c is the shared result matrix a unit
// or dynamic node's final-destination write-back targets.
func NewMergeTreeManager(numTrees, treeSize, width, numFinalMergers, finalMergerWidth int,
	elemSize memproto.Address, addrCElements memproto.Address,
	inputBufCap int, outputBufferBytes memproto.Address,
	pool *PartialPool, rows *rowsource.Source, cache *LinkedListCache, c *matrix.CSR) *MergeTreeManager {
	m := &MergeTreeManager{
		Pool:             pool,
		Rows:             rows,
		Cache:            cache,
		Radix:            treeSize,
		MaxRowsMerge:     treeSize * numTrees,
		NumFinalMergers:  numFinalMergers,
		FinalMergerWidth: finalMergerWidth,
		ElemSize:         elemSize,
		CAddrElements:    addrCElements,
		C:                c,
		allocator:        newTaskAllocator(numTrees),
	}
	m.Units = make([]*MergeUnit, numTrees)
	for i := range m.Units {
		m.Units[i] = NewMergeUnit(treeSize, width, elemSize, inputBufCap, outputBufferBytes, c, addrCElements, "merge_tree")
	}
	numDyn := numTrees - 1
	if numDyn < 0 {
		numDyn = 0
	}
	m.DynNodes = make([]*DynamicNode, numDyn)
	for i := range m.DynNodes {
		m.DynNodes[i] = NewDynamicNode(c, addrCElements, "dyn_node")
	}
	return m
}

// Reset clears every counter and piece of in-flight state.
func (m *MergeTreeManager) Reset() {
	m.activeTree = nil
	m.allocator = newTaskAllocator(len(m.Units))
	m.NumTasksIssued = 0
	m.Rows.Reset()
	for i := range m.Units {
		u := m.Units[i]
		m.Units[i] = NewMergeUnit(u.tree.size, u.tree.width, u.elemSize, u.inputBufCap, u.outputBufferBytes, m.C, m.CAddrElements, "merge_tree")
	}
	for i := range m.DynNodes {
		m.DynNodes[i] = NewDynamicNode(m.C, m.CAddrElements, "dyn_node")
	}
}

// Finished reports whether every row has been fully scheduled, every
// merge unit has drained its tasks, and every dynamic node is idle.
func (m *MergeTreeManager) Finished() bool {
	if !m.Rows.Finished() || m.activeTree != nil || !m.allocator.Empty() {
		return false
	}
	for _, u := range m.Units {
		if u.HasCur || u.HasNext {
			return false
		}
	}
	for _, n := range m.DynNodes {
		if !n.Empty() {
			return false
		}
	}
	return true
}

// Update advances the row source, drains and steps the dynamic-node
// layer against last cycle's tree-root contents, steps every merge
// unit, then allocates this cycle's work — mirroring
// Merge_Tree_Manager::update's ordering (write outputs, fold dynamic
// nodes, step trees, allocate, fetch next task).
func (m *MergeTreeManager) Update() {
	m.Rows.Update()
	m.updateDynamicNodes()
	for _, u := range m.Units {
		u.Update(m.Pool, m.Cache.HeadFor)
	}
	m.allocateTask()
	m.getNewTask()
}

// Apply drains every component's recv cells.
func (m *MergeTreeManager) Apply() {
	m.Rows.Apply()
	for _, u := range m.Units {
		u.Apply()
	}
	for _, n := range m.DynNodes {
		n.Apply()
	}
}

// sourceBuffer resolves a FiberSource to the buffer it reads from: a
// merge tree's root, or another dynamic node's own output.
func (m *MergeTreeManager) sourceBuffer(src FiberSource) *FiberBuffer {
	if !src.Valid {
		return nil
	}
	if src.Dyn {
		return &m.DynNodes[src.Index].Data
	}
	return m.Units[src.Index].tree.Root()
}

// updateDynamicNodes runs one step of each non-idle dynamic node:
// a genuine two-source fold (throttled to NumFinalMergers per cycle,
// mirroring num_final_mergers) or an unthrottled single-source
// pass-through once a node has lost one operand, then writes out
// whatever the node has produced and frees exhausted sources.
func (m *MergeTreeManager) updateDynamicNodes() {
	merges := 0
	for _, n := range m.DynNodes {
		if n.Data.Len() <= m.FinalMergerWidth && (n.Src1.Valid || n.Src2.Valid) {
			buf1 := m.sourceBuffer(n.Src1)
			buf2 := m.sourceBuffer(n.Src2)
			switch {
			case buf1 != nil && buf2 != nil:
				if merges < m.NumFinalMergers {
					n.mergeStep(buf1, buf2)
					merges++
				}
			case buf1 != nil:
				n.transferStep(buf1)
			case buf2 != nil:
				n.transferStep(buf2)
			}
			if buf1 != nil && buf1.Len() == 0 && buf1.Last {
				n.Src1 = FiberSource{}
			}
			if buf2 != nil && buf2.Len() == 0 && buf2.Last {
				n.Src2 = FiberSource{}
			}
		}
		n.writeBack(m.ElemSize, m.Pool)
	}
}

// allocateTask drives the TaskAllocator's two phases: spread the
// current batch's remaining inputs across idle trees, then — once the
// batch no longer fits one tree — pair adjacent same-generation
// sources into a free dynamic node.
//
// Grounded on Task_Allocator::allocate_task (merge_tree_manager.cpp).
func (m *MergeTreeManager) allocateTask() {
	if m.allocator.Empty() {
		return
	}
	if !m.allocator.allRowsAllocated() {
		for i := range m.Units {
			if m.addTaskToTree(i) {
				return
			}
		}
	}
	if m.allocator.single || len(m.allocator.sources) < 2 {
		return
	}

	idx := -1
	for i := 1; i < len(m.allocator.sources); i++ {
		if m.allocator.sources[i-1].gen == m.allocator.sources[i].gen {
			idx = i
			break
		}
	}
	if idx == -1 {
		if !m.allocator.lastMerge() {
			return
		}
		idx = len(m.allocator.sources) - 1
	}

	for i := range m.DynNodes {
		if m.DynNodes[i].Empty() {
			m.addTaskToDynNode(i, idx)
			return
		}
	}
}

// addTaskToTree hands the next up-to-Radix slice of the current
// batch to tree i, if that tree is idle and hasn't already taken a
// slice from this batch. A batch that fits in a single tree writes
// straight to the batch's own destination; a wider batch's tree
// writes into DestDynSource for a dynamic node to pick up.
func (m *MergeTreeManager) addTaskToTree(i int) bool {
	if m.allocator.treeUsed[i] || len(m.allocator.pending) == 0 {
		return false
	}
	u := m.Units[i]
	if u.HasCur {
		return false
	}

	n := m.Radix
	if n > len(m.allocator.pending) {
		n = len(m.allocator.pending)
	}
	inputs := append([]InputFiber(nil), m.allocator.pending[:n]...)

	dest := TaskDest{Kind: DestDynSource}
	if m.allocator.single {
		dest = m.allocator.dest
	}
	if !u.LoadTask(Task{Valid: true, Inputs: inputs, Dest: dest}) {
		return false
	}

	m.allocator.pending = m.allocator.pending[n:]
	m.allocator.treeUsed[i] = true
	m.NumTasksIssued++
	if m.allocator.single {
		m.allocator.dest = TaskDest{}
	} else {
		m.allocator.sources = append(m.allocator.sources, allocSource{src: FiberSource{Valid: true, Index: i}})
	}
	return true
}

// addTaskToDynNode pairs the two sources at allocator.sources[idx-1]
// and [idx] into dynamic node nodeIdx. When this is the batch's final
// pairing, the node writes straight to the batch's destination;
// otherwise the pair collapses into one new source, one generation
// deeper, in the earlier slot.
func (m *MergeTreeManager) addTaskToDynNode(nodeIdx, idx int) {
	prev := &m.allocator.sources[idx-1]
	cur := &m.allocator.sources[idx]
	node := m.DynNodes[nodeIdx]
	node.Src1, node.Src2 = prev.src, cur.src

	if m.allocator.lastMerge() {
		node.Dest = m.allocator.dest
		node.HasDest = true
		node.writeAddr = m.allocator.dest.WriteAddr
		m.allocator.sources = m.allocator.sources[:0]
		m.allocator.dest = TaskDest{}
		return
	}
	prev.src = FiberSource{Valid: true, Dyn: true, Index: nodeIdx}
	prev.gen++
	m.allocator.sources = append(m.allocator.sources[:idx], m.allocator.sources[idx+1:]...)
}

// getNewTask mirrors internal/baseline.Manager.getNewTask at
// MaxRowsMerge granularity: with no active outer task tree, peek the
// head row and either hand the allocator a flat batch or initialize a
// tree; with an active tree, walk it one step and hand the allocator
// whatever it produces.
func (m *MergeTreeManager) getNewTask() {
	if !m.allocator.Empty() {
		return
	}

	if m.activeTree == nil {
		rec, ok := m.Rows.PeekRow()
		if !ok {
			return
		}
		writeAddr := m.CAddrElements + memproto.Address(rec.CRowPtr)*m.ElemSize
		dest := TaskDest{Kind: DestFinal, CRowIdx: rec.ARowIdx, WriteAddr: writeAddr}

		if rec.NumBInputs <= uint32(m.MaxRowsMerge) {
			base := m.Rows.CurrentBase()
			inputs := make([]InputFiber, 0, rec.NumBInputs)
			for i := uint32(0); i < rec.NumBInputs; i++ {
				aVal, begin, end, ok := m.Rows.BInput(base + i)
				if !ok {
					return
				}
				inputs = append(inputs, InputFiber{Kind: InputBSlice, AValue: aVal, Begin: begin, End: end, HeadPtr: InvalidHeadPtr})
			}
			m.Rows.Advance(rec.NumBInputs)
			m.Rows.PopRow()
			m.allocator.start(inputs, dest, m.Radix)
			return
		}

		m.activeTree = NewTaskTree(uint32(m.MaxRowsMerge), m.Rows.CurrentBase(), rec.NumBInputs, dest)
	}

	task, ok := m.activeTree.Next(m.Rows, m.Pool)
	if !ok {
		return
	}
	if m.activeTree.Done() {
		m.Rows.PopRow()
		m.activeTree = nil
	}
	m.allocator.start(task.Inputs, task.Dest, m.Radix)
}

// ConnectMainMemory wires the row source, every merge unit's write
// port, and every dynamic node's write port to the shared main memory
// model, consuming one port per link from the provided allocator
// function.
func (m *MergeTreeManager) ConnectMainMemory(nextPort func() *mainmem.Port) {
	portfabric.Connect(m.Rows.Port(), nextPort())
	for _, u := range m.Units {
		portfabric.Connect(u.MemWritePort, nextPort())
	}
	for _, n := range m.DynNodes {
		portfabric.Connect(n.MemWritePort, nextPort())
	}
}

// ConnectCache wires every merge unit's read port to the shared
// linked-list cache.
func (m *MergeTreeManager) ConnectCache(cache *LinkedListCache) {
	for i, u := range m.Units {
		portfabric.Connect(u.ReadPort, cache.ReadPorts[i])
	}
}
