package baseline

import (
	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
	"github.com/RuiPMaia/mergeforest-sim/internal/portfabric"
)

// PE is one radix-R multi-way merger: a processing element holding a
// staged pair of tasks (cur, next) so the merger never stalls on task
// dispatch once data is flowing, R input buffers, a single
// accumulator and a byte-counted output path.
//
// Grounded on PE::update / PE::get_cache_reads / PE::write_back
// (PE_manager.cpp), §4.5.
type PE struct {
	radix             int
	elemSize          memproto.Address
	inputBufCap       int
	outputBufferBytes memproto.Address

	// c and cBase let writeBack address the final destination's
	// actual ColIdx/Values slots (and RowEnd, for a result row whose
	// upper-bound allocation overapproximated its true size), rather
	// than only emitting the memory-traffic side effect of the write.
	c     *matrix.CSR
	cBase memproto.Address

	Cur, Next           Task
	HasCur, HasNext     bool
	CurTaskFinished     bool
	NumElemsFetchedCur  uint64
	NumElemsFetchedNext uint64

	accKey   uint32
	accVal   float64
	accValid bool

	numBytesWrite memproto.Address
	writeAddr     memproto.Address
	pendingC      []Element

	rrInput int

	ReadPort     *portfabric.Port[CacheReadReq, CacheReadResp]
	WritePort    *portfabric.Port[CacheWriteReq, CacheWriteResp]
	MemWritePort *mainmem.RequesterPort

	outstandingReadInput int

	IdleCycles       uint64
	WriteStallCycles uint64
	BDataStallCycles uint64
	Mults            uint64
	Adds             uint64
	ElementsOut      uint64
}

const invalidInputIdx = -1

// NewPE creates a PE with R input lanes, name used for its ports'
// diagnostic names. c is the shared result matrix every PE's final
// writes land in, addressed relative to cBase (== the manager's
// CAddrElements).
func NewPE(radix int, elemSize memproto.Address, inputBufCap int, outputBufferBytes memproto.Address, c *matrix.CSR, cBase memproto.Address, name string) *PE {
	return &PE{
		radix:                 radix,
		elemSize:              elemSize,
		inputBufCap:           inputBufCap,
		outputBufferBytes:     outputBufferBytes,
		c:                     c,
		cBase:                 cBase,
		ReadPort:              portfabric.NewPortT[CacheReadReq, CacheReadResp](name + ".read"),
		WritePort:             portfabric.NewPortT[CacheWriteReq, CacheWriteResp](name + ".write"),
		MemWritePort:          mainmem.NewRequesterPort(name + ".memwrite"),
		outstandingReadInput:  invalidInputIdx,
	}
}

func (pe *PE) inputEnd(f *InputFiber, pool *PartialPool) memproto.Address {
	if f.Kind == InputPartial {
		return pool.Get(f.FiberIdx).End
	}
	return f.End
}

func (pe *PE) inputUpstreamFinished(f *InputFiber, pool *PartialPool) bool {
	if f.Kind == InputPartial {
		return pool.Get(f.FiberIdx).Finished
	}
	return true
}

func (pe *PE) inputExhausted(f *InputFiber, pool *PartialPool) bool {
	return len(f.Buf) == 0 && f.Begin >= pe.inputEnd(f, pool) && pe.inputUpstreamFinished(f, pool)
}

// Update runs the cache-request arbitration step and the merger
// algorithm for one cycle.
func (pe *PE) Update(pool *PartialPool) {
	pe.arbitrateCacheRequest(pool)
	pe.mergerStep(pool)
	pe.writeBack(pool)
}

// arbitrateCacheRequest implements §4.5 "Cache request arbitration":
// a single round-robin pointer over input lanes, fetching at most one
// cache block per cycle for the current task's input, or (if that
// lane is finished) the same lane of the staged next task.
func (pe *PE) arbitrateCacheRequest(pool *PartialPool) {
	if pe.ReadPort.HasMsgSend() || pe.outstandingReadInput != invalidInputIdx {
		return
	}
	for i := 0; i < pe.radix; i++ {
		lane := (pe.rrInput + i) % pe.radix
		var f *InputFiber
		fromNext := false
		if pe.HasCur && lane < len(pe.Cur.Inputs) && !pe.inputExhausted(&pe.Cur.Inputs[lane], pool) {
			f = &pe.Cur.Inputs[lane]
		} else if pe.HasNext && lane < len(pe.Next.Inputs) {
			f = &pe.Next.Inputs[lane]
			fromNext = true
		} else {
			continue
		}
		if f.requested {
			continue
		}
		end := pe.inputEnd(f, pool)
		if f.Begin >= end {
			continue
		}
		if len(f.Buf)+int(memproto.BlockSize) > pe.inputBufCap {
			continue
		}
		f.requested = true
		pe.ReadPort.AddMsgSend(CacheReadReq{Addr: f.Begin})
		pe.ReadPort.Transfer()
		pe.outstandingReadInput = lane
		if fromNext {
			pe.outstandingReadInput = -(lane + 2) // encode "next task" lanes as negative
		}
		pe.rrInput = (lane + 1) % pe.radix
		return
	}
}

// Apply drains the cache read/write response ports into input buffers
// and write-byte accounting.
func (pe *PE) Apply(pool *PartialPool) {
	if resp, ok := pe.ReadPort.TakeMsgRecv(); ok {
		lane := pe.outstandingReadInput
		task := &pe.Cur
		if lane < 0 {
			lane = -lane - 2
			task = &pe.Next
		}
		if lane >= 0 && lane < len(task.Inputs) {
			f := &task.Inputs[lane]
			f.Buf = append(f.Buf, resp.Data...)
			f.Begin = resp.End
			f.requested = false
			if task == &pe.Next {
				pe.NumElemsFetchedNext += uint64(len(resp.Data))
			} else {
				pe.NumElemsFetchedCur += uint64(len(resp.Data))
			}
		}
		pe.outstandingReadInput = invalidInputIdx
	}
	if _, ok := pe.WritePort.TakeMsgRecv(); ok {
		// write acknowledged; nothing further to do, backpressure was
		// already cleared when the request was accepted.
	}
	if _, ok := pe.MemWritePort.TakeMsgRecv(); ok {
	}
}

// mergerStep is the five-step algorithm of §4.5.
func (pe *PE) mergerStep(pool *PartialPool) {
	if !pe.HasCur {
		pe.IdleCycles++
		return
	}
	if pe.numBytesWrite+pe.elemSize > pe.outputBufferBytes {
		pe.WriteStallCycles++
		return
	}

	allFinished := true
	var minKey uint32 = memproto.InvalidIndex
	minLane := -1
	for i := range pe.Cur.Inputs {
		f := &pe.Cur.Inputs[i]
		if pe.inputExhausted(f, pool) {
			continue
		}
		allFinished = false
		e, ok := f.head()
		if !ok {
			pe.BDataStallCycles++
			return
		}
		if e.ColIdx < minKey {
			minKey = e.ColIdx
			minLane = i
		}
	}

	if allFinished {
		if pe.accValid {
			pe.flushAcc()
		}
		pe.CurTaskFinished = true
		return
	}

	f := &pe.Cur.Inputs[minLane]
	head, _ := f.head()
	contrib := f.AValue * head.Value
	pe.Mults++

	switch {
	case !pe.accValid:
		pe.accKey, pe.accVal, pe.accValid = head.ColIdx, contrib, true
	case head.ColIdx == pe.accKey:
		pe.accVal += contrib
		pe.Adds++
	default:
		pe.flushAcc()
		pe.accKey, pe.accVal, pe.accValid = head.ColIdx, contrib, true
	}
	f.pop()
}

func (pe *PE) flushAcc() {
	pe.pendingC = append(pe.pendingC, Element{ColIdx: pe.accKey, Value: pe.accVal})
	pe.accValid = false
	pe.numBytesWrite += pe.elemSize
	pe.ElementsOut++
}

// writeBack drains flushed elements one element per write request (a
// memory write for a final row, a cache write for a partial fiber);
// elements are not batched into transactions or blocks. It then rolls
// next_task into cur_task
// once the current task has finished and its write queue is empty.
// For a partial destination the cache write port is the only place a
// C_Partial_Fiber's data is ever stored, so its slot's End must grow
// by exactly as many elements as are actually written back.
func (pe *PE) writeBack(pool *PartialPool) {
	for pe.numBytesWrite >= pe.elemSize && len(pe.pendingC) > 0 {
		if pe.Cur.Dest.IsFinal {
			if pe.MemWritePort.HasMsgSend() {
				break
			}
			elem := pe.pendingC[0]
			idx := int((pe.writeAddr - pe.cBase) / pe.elemSize)
			pe.c.ColIdx[idx] = elem.ColIdx
			if len(pe.c.Values) > 0 {
				pe.c.Values[idx] = elem.Value
			}
			pe.MemWritePort.AddMsgSend(memproto.MemRequest{Address: pe.writeAddr, IsWrite: true})
			pe.MemWritePort.Transfer()
		} else {
			if pe.WritePort.HasMsgSend() {
				break
			}
			pe.WritePort.AddMsgSend(CacheWriteReq{Addr: pe.writeAddr, Data: pe.pendingC[:1]})
			pe.WritePort.Transfer()
			pool.Get(pe.Cur.Dest.PartialIdx).End += pe.elemSize
		}
		pe.writeAddr += pe.elemSize
		pe.pendingC = pe.pendingC[1:]
		pe.numBytesWrite -= pe.elemSize
	}

	if pe.CurTaskFinished && pe.numBytesWrite == 0 && len(pe.pendingC) == 0 {
		if pe.Cur.Dest.IsFinal {
			if pe.c.RowEnd != nil {
				pe.c.RowEnd[pe.Cur.Dest.CRowIdx+1] = uint32((pe.writeAddr - pe.cBase) / pe.elemSize)
			}
		} else {
			pool.Get(pe.Cur.Dest.PartialIdx).Finished = true
		}
		pe.freeConsumedPartials(pool)
		pe.Cur = pe.Next
		pe.HasCur = pe.HasNext
		pe.Next = Task{}
		pe.HasNext = false
		pe.CurTaskFinished = false
		pe.NumElemsFetchedCur += pe.NumElemsFetchedNext
		pe.NumElemsFetchedNext = 0
		if pe.HasCur {
			pe.writeAddr = pe.Cur.Dest.WriteAddr
		}
	}
}

// freeConsumedPartials releases every partial-pool slot the just-
// finished task drained, mirroring the original's freeing a
// C_Partial_Fiber back to the pool once its last chunk is consumed
// (PE_manager.cpp, PE::get_cache_request).
func (pe *PE) freeConsumedPartials(pool *PartialPool) {
	for i := range pe.Cur.Inputs {
		f := &pe.Cur.Inputs[i]
		if f.Kind == InputPartial {
			pool.Free(f.FiberIdx)
		}
	}
}
