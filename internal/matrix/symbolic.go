package matrix

import (
	"container/heap"
	"math/bits"
)

type heapItem struct {
	bucket uint32
	slot   int
}

type minHeap []heapItem

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].bucket < h[j].bucket }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// SymbolicPhase computes the exact row sizes of C = A*B without
// materializing values, using a packed-bitset representation of B
// and a k-way heap merge over each A row's matching B-row heads.
//
// Grounded on spGEMM_symbolic_phase (sparse_matrix.cpp): used both
// when the cheap upper-bound row_ptr allocation overflows or fails
// monotonicity (spec §4.4) and directly by the stats subcommand.
func SymbolicPhase(a, b *CSR) (*CSR, error) {
	if a.NumCols != b.NumRows {
		return nil, ErrIncompatibleDimensions
	}

	bPacked := newPacked(b)

	c := &CSR{NumRows: a.NumRows, NumCols: b.NumCols}
	c.RowPtr = make([]uint32, c.NumRows+1)

	maxRowSize := 0
	for i := 0; i < a.NumRows; i++ {
		if s := a.RowSize(i); s > maxRowSize {
			maxRowSize = s
		}
	}
	rowIdx := make([]uint32, maxRowSize)
	rowEnd := make([]uint32, maxRowSize)

	h := &minHeap{}
	for i := 0; i < a.NumRows; i++ {
		*h = (*h)[:0]
		rowLen := int(a.RowPtr[i+1] - a.RowPtr[i])
		for j := 0; j < rowLen; j++ {
			col := a.ColIdx[a.RowPtr[i]+uint32(j)]
			rowIdx[j] = bPacked.rowPtr[col]
			rowEnd[j] = bPacked.rowPtr[col+1]
			if rowIdx[j] < rowEnd[j] {
				heap.Push(h, heapItem{bPacked.colSetIdx[rowIdx[j]], j})
			}
		}

		const noCurIdx = ^uint32(0)
		curIdx := noCurIdx
		var curSet uint64
		var counter uint32
		for h.Len() > 0 {
			min := heap.Pop(h).(heapItem)
			if min.bucket == curIdx {
				curSet |= bPacked.colSet[rowIdx[min.slot]]
			} else {
				if curIdx != noCurIdx {
					counter += uint32(bits.OnesCount64(curSet))
				}
				curIdx = min.bucket
				curSet = bPacked.colSet[rowIdx[min.slot]]
			}
			rowIdx[min.slot]++
			if rowIdx[min.slot] < rowEnd[min.slot] {
				heap.Push(h, heapItem{bPacked.colSetIdx[rowIdx[min.slot]], min.slot})
			}
		}
		if curIdx != noCurIdx {
			counter += uint32(bits.OnesCount64(curSet))
		}
		c.RowPtr[i+1] = c.RowPtr[i] + counter
	}
	c.Nnz = int(c.RowPtr[c.NumRows])
	return c, nil
}
