package matrix

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
)

// BRowSpan is a (begin, end) pair of byte addresses into the
// B_elements region, the unit preproc_B_row_ptr_end is made of.
type BRowSpan struct {
	Begin memproto.Address
	End   memproto.Address
}

// Data holds the two input matrices, the preprocessed A arrays both
// accelerators schedule from, the physical address layout, and the
// preprocessor's bookkeeping statistics.
//
// Grounded on Matrix_Data (matrix_data.{hpp,cpp}).
type Data struct {
	A, B *CSR
	C    *CSR

	ComputeResult bool

	// Preprocessed A arrays (spec §3 "Preprocessed A arrays").
	PreprocARowIdx     []uint32
	PreprocCRowPtr     []uint32
	PreprocARowPtr     []uint32
	PreprocAValues     []float64
	PreprocBRowPtrEnd  []BRowSpan

	// Preprocessor statistics (spec §4.4).
	NumMults                uint64
	BDataMaxReads           uint64
	BDataMinReads           uint64
	BDataMinReadsFiberCache uint64
	BDataMaxReadsFiberCache uint64
	MinBytesBData           uint64
	MaxBytesBData           uint64

	// Physical address layout (spec §3 "Physical address layout").
	AddrPreprocARowIdx    memproto.Address
	AddrPreprocCRowPtr    memproto.Address
	AddrPreprocARowPtr    memproto.Address
	AddrPreprocAValues    memproto.Address
	AddrPreprocBRowPtrEnd memproto.Address
	AddrBElements         memproto.Address
	AddrCRowPtr           memproto.Address
	AddrCElements         memproto.Address
	AddrCPartialsBase     memproto.Address
	CPartialSlotSize      memproto.Address
	NumCPartialSlots      int
}

func align(addr memproto.Address, to memproto.Address) memproto.Address {
	if addr%to == 0 {
		return addr
	}
	return (addr/to + 1) * to
}

// PreprocessMats runs the one-time preprocessing pass: it computes
// an upper-bound allocation for C, falling back to the exact
// symbolic phase when the cheap bound overflows 32 bits or fails to
// be monotone, builds the flattened per-A-row preprocessed arrays
// (skipping A entries whose matched B row is empty), and tallies the
// B-row-reuse statistics the fiber caches are checked against.
func (d *Data) PreprocessMats() error {
	if d.A.NumCols != d.B.NumRows {
		return ErrIncompatibleDimensions
	}

	if err := d.computeCRowPtr(); err != nil {
		return err
	}

	d.PreprocARowIdx = d.PreprocARowIdx[:0]
	d.PreprocCRowPtr = d.PreprocCRowPtr[:0]
	d.PreprocARowPtr = append(d.PreprocARowPtr[:0], 0)
	d.PreprocAValues = d.PreprocAValues[:0]
	d.PreprocBRowPtrEnd = d.PreprocBRowPtrEnd[:0]

	seenBRows := map[uint32]bool{}
	d.NumMults = 0
	d.BDataMaxReads, d.BDataMinReads = 0, 0
	d.BDataMinReadsFiberCache, d.BDataMaxReadsFiberCache = 0, 0
	d.MinBytesBData, d.MaxBytesBData = 0, 0

	for i := 0; i < d.A.NumRows; i++ {
		var nonEmpty uint32
		for j := d.A.RowPtr[i]; j < d.A.RowPtr[i+1]; j++ {
			col := d.A.ColIdx[j]
			bSize := d.B.RowSize(int(col))
			if bSize == 0 {
				continue
			}
			d.NumMults += uint64(bSize)
			nonEmpty++

			spanBytes := uint64(bSize) * memproto.ElementSize
			txs := uint64(divCeil(uint32(spanBytes), memproto.MemTransactionSize))
			blocks := uint64(divCeil(uint32(bSize), memproto.BlockSize))
			d.BDataMaxReads += txs
			d.BDataMaxReadsFiberCache += blocks
			if !seenBRows[col] {
				seenBRows[col] = true
				d.BDataMinReads += txs
				d.BDataMinReadsFiberCache += blocks
				d.MinBytesBData += uint64(bSize) * memproto.ElementSize
			}
			d.MaxBytesBData += uint64(bSize) * memproto.ElementSize

			d.PreprocAValues = append(d.PreprocAValues, d.A.Values[j])
			begin := d.AddrBElements + memproto.Address(d.B.RowPtr[col])*memproto.ElementSize
			end := d.AddrBElements + memproto.Address(d.B.RowPtr[col+1])*memproto.ElementSize
			d.PreprocBRowPtrEnd = append(d.PreprocBRowPtrEnd, BRowSpan{begin, end})
		}
		if nonEmpty > 0 {
			d.PreprocARowIdx = append(d.PreprocARowIdx, uint32(i))
			d.PreprocCRowPtr = append(d.PreprocCRowPtr, d.C.RowPtr[i])
			d.PreprocARowPtr = append(d.PreprocARowPtr, d.PreprocARowPtr[len(d.PreprocARowPtr)-1]+nonEmpty)
		}
	}
	d.BDataMinReadsFiberCache *= memproto.TransactionsPerBlock
	d.BDataMaxReadsFiberCache *= memproto.TransactionsPerBlock

	return nil
}

func (d *Data) computeCRowPtr() error {
	c := &CSR{NumRows: d.A.NumRows, NumCols: d.B.NumCols}
	c.RowPtr = make([]uint32, c.NumRows+1)

	overflow := false
	acc := uint64(0)
	for i := 0; i < d.A.NumRows; i++ {
		var sumB uint64
		for j := d.A.RowPtr[i]; j < d.A.RowPtr[i+1]; j++ {
			sumB += uint64(d.B.RowSize(int(d.A.ColIdx[j])))
		}
		rowCount := sumB
		if rowCount > uint64(d.B.NumCols) {
			rowCount = uint64(d.B.NumCols)
		}
		next := acc + rowCount
		if next > math.MaxUint32 || next < acc {
			overflow = true
			break
		}
		c.RowPtr[i+1] = uint32(next)
		acc = next
	}

	if !overflow {
		for i := 0; i < d.A.NumRows; i++ {
			if c.RowPtr[i] > c.RowPtr[i+1] {
				overflow = true
				break
			}
		}
	}

	if overflow {
		exact, err := SymbolicPhase(d.A, d.B)
		if err != nil {
			return err
		}
		c = exact
	}
	c.Nnz = int(c.RowPtr[c.NumRows])
	c.RowEnd = append([]uint32(nil), c.RowPtr...)
	c.ColIdx = make([]uint32, c.Nnz)
	if d.ComputeResult {
		c.Values = make([]float64, c.Nnz)
	}
	d.C = c
	return nil
}

// SetPhysicalAddrs packs every preprocessed/matrix array into the
// flat physical address space (spec §3), aligning element regions
// (B_elements, C_elements, and the C-partial spill region) to
// BlockSizeBytes and everything else to MemTransactionSize, then
// splits the spill region into numCPartialSlots equal slots of
// slotSize bytes each.
func (d *Data) SetPhysicalAddrs(numCPartialSlots int, slotSize memproto.Address) {
	addr := memproto.Address(0)

	d.AddrPreprocARowIdx = addr
	addr += memproto.Address(len(d.PreprocARowIdx)) * 4
	addr = align(addr, memproto.MemTransactionSize)

	d.AddrPreprocCRowPtr = addr
	addr += memproto.Address(len(d.PreprocCRowPtr)) * 4
	addr = align(addr, memproto.MemTransactionSize)

	d.AddrPreprocARowPtr = addr
	addr += memproto.Address(len(d.PreprocARowPtr)) * 4
	addr = align(addr, memproto.MemTransactionSize)

	d.AddrPreprocAValues = addr
	addr += memproto.Address(len(d.PreprocAValues)) * 8
	addr = align(addr, memproto.MemTransactionSize)

	d.AddrPreprocBRowPtrEnd = addr
	addr += memproto.Address(len(d.PreprocBRowPtrEnd)) * 8
	addr = align(addr, memproto.MemTransactionSize)

	addr = align(addr, memproto.BlockSizeBytes)
	d.AddrBElements = addr
	addr += memproto.Address(d.B.Nnz) * memproto.ElementSize
	addr = align(addr, memproto.MemTransactionSize)

	d.AddrCRowPtr = addr
	addr += memproto.Address(len(d.C.RowPtr)) * 4
	addr = align(addr, memproto.MemTransactionSize)

	addr = align(addr, memproto.BlockSizeBytes)
	d.AddrCElements = addr
	addr += memproto.Address(d.C.Nnz) * memproto.ElementSize
	addr = align(addr, memproto.BlockSizeBytes)

	d.AddrCPartialsBase = addr
	d.NumCPartialSlots = numCPartialSlots
	d.CPartialSlotSize = align(slotSize, memproto.BlockSizeBytes)
}

// CPartialSlotAddr returns the base address of the i'th C-partial
// pool slot.
func (d *Data) CPartialSlotAddr(i int) memproto.Address {
	return d.AddrCPartialsBase + memproto.Address(i)*d.CPartialSlotSize
}

// SpGEMMCheckResult re-merges A*B with a sorted-heap merge and
// compares every element of the accelerator-computed C against the
// reference, within almostEqual tolerance. Grounded on
// spGEMM_check_result (matrix_data.cpp).
func (d *Data) SpGEMMCheckResult() error {
	type heapEntry struct {
		col  uint32
		aVal float64
		pos  uint32 // position within B row
		end  uint32
		bRow uint32
	}
	h := &checkHeap{}

	for i := 0; i < d.A.NumRows; i++ {
		*h = (*h)[:0]
		for j := d.A.RowPtr[i]; j < d.A.RowPtr[i+1]; j++ {
			bRow := d.A.ColIdx[j]
			begin, end := d.B.RowPtr[bRow], d.B.RowPtr[bRow+1]
			if begin < end {
				heap.Push(h, checkHeapItem{
					col: d.B.ColIdx[begin], aVal: d.A.Values[j],
					pos: begin, end: end, bVals: d.B,
				})
			}
		}

		refCol := make([]uint32, 0, d.C.RowSize(i))
		refVal := make([]float64, 0, d.C.RowSize(i))
		var curCol uint32 = memproto.InvalidIndex
		var curVal float64
		for h.Len() > 0 {
			top := heap.Pop(h).(checkHeapItem)
			contrib := top.aVal * d.B.Values[top.pos]
			if top.col == curCol {
				curVal += contrib
			} else {
				if curCol != memproto.InvalidIndex {
					refCol = append(refCol, curCol)
					refVal = append(refVal, curVal)
				}
				curCol = top.col
				curVal = contrib
			}
			nextPos := top.pos + 1
			if nextPos < top.end {
				heap.Push(h, checkHeapItem{
					col: d.B.ColIdx[nextPos], aVal: top.aVal,
					pos: nextPos, end: top.end, bVals: d.B,
				})
			}
		}
		if curCol != memproto.InvalidIndex {
			refCol = append(refCol, curCol)
			refVal = append(refVal, curVal)
		}

		gotBegin, gotEnd := d.C.RowPtr[i], d.rowEndOf(i)
		if int(gotEnd-gotBegin) != len(refCol) {
			return fmt.Errorf("matrix: row %d nnz mismatch: got %d want %d",
				i, gotEnd-gotBegin, len(refCol))
		}
		for k := range refCol {
			gotCol := d.C.ColIdx[gotBegin+uint32(k)]
			gotVal := d.C.Values[gotBegin+uint32(k)]
			if gotCol != refCol[k] {
				return fmt.Errorf("matrix: row %d entry %d col mismatch: got %d want %d",
					i, k, gotCol, refCol[k])
			}
			if !almostEqual(gotVal, refVal[k], 1e6) {
				return fmt.Errorf("matrix: row %d entry %d value mismatch: got %v want %v",
					i, k, gotVal, refVal[k])
			}
		}
	}
	return nil
}

func (d *Data) rowEndOf(i int) uint32 {
	if d.C.RowEnd != nil {
		return d.C.RowEnd[i+1]
	}
	return d.C.RowPtr[i+1]
}

type checkHeapItem struct {
	col   uint32
	aVal  float64
	pos   uint32
	end   uint32
	bVals *CSR
}

type checkHeap []checkHeapItem

func (h checkHeap) Len() int           { return len(h) }
func (h checkHeap) Less(i, j int) bool { return h[i].col < h[j].col }
func (h checkHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *checkHeap) Push(x interface{}) { *h = append(*h, x.(checkHeapItem)) }
func (h *checkHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
