package matrix_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
)

func TestSymbolicPhaseRowSizes(t *testing.T) {
	// A (2x3): row0 has cols {0, 2}, row1 has col {1}.
	a := &matrix.CSR{
		NumRows: 2, NumCols: 3, Nnz: 3,
		RowPtr: []uint32{0, 2, 3},
		ColIdx: []uint32{0, 2, 1},
	}
	// B (3x2): row0 -> {0,1}, row1 -> {}, row2 -> {0}.
	b := &matrix.CSR{
		NumRows: 3, NumCols: 2, Nnz: 3,
		RowPtr: []uint32{0, 2, 2, 3},
		ColIdx: []uint32{0, 1, 0},
	}

	c, err := matrix.SymbolicPhase(a, b)
	require.NoError(t, err)

	// row0 merges B row0 {0,1} with B row2 {0}: union size 2.
	assert.Equal(t, 2, c.RowSize(0))
	// row1 only touches B row1, which is empty.
	assert.Equal(t, 0, c.RowSize(1))
	assert.Equal(t, 2, c.Nnz)
}

func TestSymbolicPhaseDimensionMismatch(t *testing.T) {
	a := &matrix.CSR{NumRows: 1, NumCols: 2, RowPtr: []uint32{0, 0}}
	b := &matrix.CSR{NumRows: 3, NumCols: 2, RowPtr: []uint32{0, 0, 0, 0}}
	_, err := matrix.SymbolicPhase(a, b)
	assert.ErrorIs(t, err, matrix.ErrIncompatibleDimensions)
}

func TestSymbolicPhaseWideRows(t *testing.T) {
	// exercise the packed-bitset bucketing across a >64-column boundary.
	a := &matrix.CSR{
		NumRows: 1, NumCols: 1, Nnz: 1,
		RowPtr: []uint32{0, 1},
		ColIdx: []uint32{0},
	}
	bCols := []uint32{0, 10, 63, 64, 65, 130}
	b := &matrix.CSR{
		NumRows: 1, NumCols: 200, Nnz: len(bCols),
		RowPtr: []uint32{0, uint32(len(bCols))},
		ColIdx: bCols,
	}
	c, err := matrix.SymbolicPhase(a, b)
	require.NoError(t, err)
	assert.Equal(t, len(bCols), c.RowSize(0))
}
