// Package matrix implements the CSR sparse matrix representation,
// Matrix Market I/O, R-MAT generation, the SpGEMM symbolic phase, and
// the preprocessing / physical address layout both accelerator
// models read from.
//
// Grounded on original_source/mergeforest-sim/sparse_matrix.{hpp,cpp}
// and matrix_data.{hpp,cpp}.
package matrix

import (
	"fmt"
	"sort"
)

// CSR is a compressed sparse row matrix. Values is empty when only
// the structure (row_ptr/col_idx) matters, as it does for the
// symbolic phase and for B during a structure-only preprocessing
// pass.
type CSR struct {
	NumRows int
	NumCols int
	Nnz     int

	RowPtr []uint32
	ColIdx []uint32
	Values []float64

	// RowEnd parallels RowPtr for a result matrix whose row_ptr was
	// produced by the cheap upper-bound allocation: RowEnd[i] is the
	// true end of row i's data, which may be less than RowPtr[i+1].
	RowEnd []uint32
}

// Transpose returns the transpose of m, computed by sorting the
// (col, row, value) triples of m — the same algorithm as
// Spmat_Csr::transpose in the original.
func (m *CSR) Transpose() *CSR {
	type coo struct {
		row, col uint32
		val      float64
	}
	entries := make([]coo, 0, m.Nnz)
	for i := 0; i < m.NumRows; i++ {
		for j := m.RowPtr[i]; j < m.RowPtr[i+1]; j++ {
			entries = append(entries, coo{m.ColIdx[j], uint32(i), m.Values[j]})
		}
	}
	sort.Slice(entries, func(a, b int) bool {
		if entries[a].row != entries[b].row {
			return entries[a].row < entries[b].row
		}
		return entries[a].col < entries[b].col
	})

	out := &CSR{
		NumRows: m.NumCols,
		NumCols: m.NumRows,
		Nnz:     m.Nnz,
		RowPtr:  make([]uint32, m.NumCols+1),
		ColIdx:  make([]uint32, m.Nnz),
		Values:  make([]float64, m.Nnz),
	}
	var prevRow uint32
	for i, e := range entries {
		out.ColIdx[i] = e.col
		out.Values[i] = e.val
		for j := prevRow; j < e.row; j++ {
			out.RowPtr[j+1] = uint32(i)
		}
		prevRow = e.row
	}
	for i := int(prevRow); i < out.NumRows; i++ {
		out.RowPtr[i+1] = uint32(out.Nnz)
	}
	return out
}

// RowSize returns the number of stored entries in row i.
func (m *CSR) RowSize(i int) int {
	return int(m.RowPtr[i+1] - m.RowPtr[i])
}

// Validate checks the structural invariants every CSR matrix in this
// system must satisfy.
func (m *CSR) Validate() error {
	if len(m.RowPtr) != m.NumRows+1 {
		return fmt.Errorf("matrix: row_ptr length %d, want %d", len(m.RowPtr), m.NumRows+1)
	}
	if m.RowPtr[0] != 0 {
		return fmt.Errorf("matrix: row_ptr[0] = %d, want 0", m.RowPtr[0])
	}
	if int(m.RowPtr[m.NumRows]) != m.Nnz {
		return fmt.Errorf("matrix: row_ptr[n] = %d, want nnz %d", m.RowPtr[m.NumRows], m.Nnz)
	}
	for i := 0; i < m.NumRows; i++ {
		if m.RowPtr[i] > m.RowPtr[i+1] {
			return fmt.Errorf("matrix: row_ptr not nondecreasing at row %d", i)
		}
	}
	for i := 0; i < m.NumRows; i++ {
		for j := m.RowPtr[i]; j+1 < m.RowPtr[i+1]; j++ {
			if m.ColIdx[j] >= m.ColIdx[j+1] {
				return fmt.Errorf("matrix: col_idx not strictly ascending in row %d", i)
			}
		}
	}
	return nil
}

// ErrIncompatibleDimensions is returned whenever an operation needs
// A.NumCols == B.NumRows and that does not hold.
var ErrIncompatibleDimensions = fmt.Errorf("matrix: incompatible dimensions")
