package baseline

import (
	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
	"github.com/RuiPMaia/mergeforest-sim/internal/portfabric"
	"github.com/RuiPMaia/mergeforest-sim/internal/rowsource"
)

// Manager is the Baseline PE array: it owns every PE, the shared
// partial-fiber pool, the shared row source (the single cursor
// get_new_task advances, per the "peek the head A row" wording of
// §4.5), and the task-tree state for whichever row is currently being
// decomposed.
//
// Grounded on PE_Manager (PE_manager.hpp/.cpp). The "global mutable
// counters" design note (§9) is honored by keeping every stat an
// explicit field here, zeroed by Reset and read by Stats.
type Manager struct {
	PEs    []*PE
	Pool   *PartialPool
	Rows   *rowsource.Source
	Radix  int
	ElemSize memproto.Address
	CAddrElements memproto.Address
	C             *matrix.CSR

	PrefetchPort          *portfabric.Port[PrefetchHint, struct{}]
	PrefetchedRowsPerCycle int

	activeTree *TaskTree
	rrPE       int

	NumTasksIssued uint64
}

// NewManager builds a PE manager with numPEs PEs of the given radix.
// c is the result matrix every PE's final write-back targets.
func NewManager(numPEs, radix int, elemSize memproto.Address, addrCElements memproto.Address,
	inputBufCap int, outputBufferBytes memproto.Address,
	pool *PartialPool, rows *rowsource.Source, c *matrix.CSR) *Manager {
	m := &Manager{
		Pool:          pool,
		Rows:          rows,
		Radix:         radix,
		ElemSize:      elemSize,
		CAddrElements: addrCElements,
		C:             c,
		PrefetchPort:  portfabric.NewPortT[PrefetchHint, struct{}]("pe_manager.prefetch"),
	}
	m.PEs = make([]*PE, numPEs)
	for i := range m.PEs {
		m.PEs[i] = NewPE(radix, elemSize, inputBufCap, outputBufferBytes, c, addrCElements, "pe")
	}
	return m
}

// Reset clears every counter and piece of in-flight state for a
// fresh run.
func (m *Manager) Reset() {
	m.activeTree = nil
	m.rrPE = 0
	m.NumTasksIssued = 0
	m.Rows.Reset()
	for i := range m.PEs {
		m.PEs[i] = NewPE(m.Radix, m.ElemSize, m.PEs[i].inputBufCap, m.PEs[i].outputBufferBytes, m.C, m.CAddrElements, "pe")
	}
}

// Finished reports whether every row has been fully scheduled and
// every PE has drained its tasks.
func (m *Manager) Finished() bool {
	if !m.Rows.Finished() || m.activeTree != nil {
		return false
	}
	for _, pe := range m.PEs {
		if pe.HasCur || pe.HasNext {
			return false
		}
	}
	return true
}

// Update advances the row source, fills empty task slots across the
// PE array, and runs each PE's per-cycle step.
func (m *Manager) Update() {
	m.Rows.Update()
	m.sendPrefetchHint()
	m.allocateTasks()
	for _, pe := range m.PEs {
		pe.Update(m.Pool)
	}
}

func (m *Manager) sendPrefetchHint() {
	if m.PrefetchPort.HasMsgSend() || m.Rows.Finished() {
		return
	}
	m.PrefetchPort.AddMsgSend(PrefetchHint{Count: uint32(m.PrefetchedRowsPerCycle)})
	m.PrefetchPort.Transfer()
}

// Apply drains every component's recv cells.
func (m *Manager) Apply() {
	m.Rows.Apply()
	for _, pe := range m.PEs {
		pe.Apply(m.Pool)
	}
}

// allocateTasks implements §4.5 "Task allocation": round-robin over
// PEs, filling empty cur_task slots, then empty next_task slots.
func (m *Manager) allocateTasks() {
	n := len(m.PEs)
	for pass := 0; pass < 2; pass++ {
		for i := 0; i < n; i++ {
			idx := (m.rrPE + i) % n
			pe := m.PEs[idx]
			if pass == 0 {
				if pe.HasCur {
					continue
				}
				task, ok := m.getNewTask()
				if !ok {
					continue
				}
				pe.Cur = task
				pe.HasCur = true
				pe.writeAddr = task.Dest.WriteAddr
				m.NumTasksIssued++
			} else {
				if pe.HasNext {
					continue
				}
				task, ok := m.getNewTask()
				if !ok {
					continue
				}
				pe.Next = task
				pe.HasNext = true
				m.NumTasksIssued++
			}
		}
	}
	m.rrPE = (m.rrPE + 1) % n
}

// getNewTask implements §4.5 get_new_task: with no active task tree,
// peek the head row and either emit a flat task or initialize a task
// tree; with an active tree, walk it one step.
func (m *Manager) getNewTask() (Task, bool) {
	if m.activeTree == nil {
		rec, ok := m.Rows.PeekRow()
		if !ok {
			return Task{}, false
		}
		writeAddr := m.CAddrElements + memproto.Address(rec.CRowPtr)*m.ElemSize
		dest := TaskDest{IsFinal: true, CRowIdx: rec.ARowIdx, WriteAddr: writeAddr}

		if rec.NumBInputs <= uint32(m.Radix) {
			base := m.Rows.CurrentBase()
			inputs := make([]InputFiber, 0, rec.NumBInputs)
			for i := uint32(0); i < rec.NumBInputs; i++ {
				aVal, begin, end, ok := m.Rows.BInput(base + i)
				if !ok {
					return Task{}, false
				}
				inputs = append(inputs, InputFiber{Kind: InputBSlice, AValue: aVal, Begin: begin, End: end})
			}
			m.Rows.Advance(rec.NumBInputs)
			m.Rows.PopRow()
			return Task{Valid: true, Inputs: inputs, Dest: dest}, true
		}

		m.activeTree = NewTaskTree(uint32(m.Radix), m.Rows.CurrentBase(), rec.NumBInputs, dest)
	}

	task, ok := m.activeTree.Next(m.Rows, m.Pool)
	if !ok {
		return Task{}, false
	}
	if m.activeTree.Done() {
		m.Rows.PopRow()
		m.activeTree = nil
	}
	return task, true
}

// ConnectMainMemory wires this manager's row source and every PE's
// write port to the shared main memory model, consuming one port per
// link from the provided allocator function.
func (m *Manager) ConnectMainMemory(nextPort func() *mainmem.Port) {
	portfabric.Connect(m.Rows.Port(), nextPort())
	for _, pe := range m.PEs {
		portfabric.Connect(pe.MemWritePort, nextPort())
	}
}
