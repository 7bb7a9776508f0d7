package matrix_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
)

func newAB() (*matrix.CSR, *matrix.CSR) {
	// A (2x2): row0 -> col0 = 2.0, row1 -> col1 = 3.0.
	a := &matrix.CSR{
		NumRows: 2, NumCols: 2, Nnz: 2,
		RowPtr: []uint32{0, 1, 2},
		ColIdx: []uint32{0, 1},
		Values: []float64{2.0, 3.0},
	}
	// B (2x2): row0 -> col0 = 5.0, row1 -> col1 = 4.0.
	b := &matrix.CSR{
		NumRows: 2, NumCols: 2, Nnz: 2,
		RowPtr: []uint32{0, 1, 2},
		ColIdx: []uint32{0, 1},
		Values: []float64{5.0, 4.0},
	}
	return a, b
}

func TestPreprocessMatsBuildsFlattenedArrays(t *testing.T) {
	a, b := newAB()
	d := &matrix.Data{A: a, B: b, ComputeResult: true}

	require.NoError(t, d.PreprocessMats())

	require.NotNil(t, d.C)
	assert.Equal(t, 2, d.C.NumRows)
	assert.Equal(t, 2, d.C.NumCols)

	// both A rows have exactly one non-empty B match.
	assert.Equal(t, []uint32{0, 1}, d.PreprocARowIdx)
	assert.Equal(t, []uint32{0, 1, 2}, d.PreprocARowPtr)
	assert.Equal(t, []float64{2.0, 3.0}, d.PreprocAValues)
	assert.Equal(t, uint64(2), d.NumMults)
	require.Len(t, d.PreprocBRowPtrEnd, 2)
	for _, span := range d.PreprocBRowPtrEnd {
		assert.Less(t, span.Begin, span.End)
	}
}

func TestPreprocessMatsDimensionMismatch(t *testing.T) {
	a, _ := newAB()
	other := &matrix.CSR{NumRows: 3, NumCols: 1, RowPtr: []uint32{0, 0, 0, 0}}
	d := &matrix.Data{A: a, B: other}
	assert.ErrorIs(t, d.PreprocessMats(), matrix.ErrIncompatibleDimensions)
}

func TestSetPhysicalAddrsLayoutIsOrderedAndAligned(t *testing.T) {
	a, b := newAB()
	d := &matrix.Data{A: a, B: b, ComputeResult: true}
	require.NoError(t, d.PreprocessMats())

	d.SetPhysicalAddrs(4, 3*memproto.BlockSizeBytes)

	addrs := []memproto.Address{
		d.AddrPreprocARowIdx, d.AddrPreprocCRowPtr, d.AddrPreprocARowPtr,
		d.AddrPreprocAValues, d.AddrPreprocBRowPtrEnd, d.AddrBElements,
		d.AddrCRowPtr, d.AddrCElements, d.AddrCPartialsBase,
	}
	for i := 1; i < len(addrs); i++ {
		assert.Less(t, addrs[i-1], addrs[i], "region %d should start before region %d", i-1, i)
	}
	assert.Equal(t, memproto.Address(0), d.AddrBElements%memproto.BlockSizeBytes)
	assert.Equal(t, memproto.Address(0), d.AddrCElements%memproto.BlockSizeBytes)
	assert.Equal(t, memproto.Address(0), d.AddrCPartialsBase%memproto.BlockSizeBytes)

	assert.Equal(t, 4, d.NumCPartialSlots)
	assert.Equal(t, d.AddrCPartialsBase, d.CPartialSlotAddr(0))
	assert.Equal(t, d.AddrCPartialsBase+d.CPartialSlotSize, d.CPartialSlotAddr(1))
}

func TestSpGEMMCheckResultAcceptsCorrectResult(t *testing.T) {
	a, b := newAB()
	d := &matrix.Data{A: a, B: b, ComputeResult: true}
	require.NoError(t, d.PreprocessMats())
	d.SetPhysicalAddrs(1, memproto.BlockSizeBytes)

	// C = A*B = [[10, 0], [0, 12]], stored sparse.
	d.C.ColIdx[0] = 0
	d.C.Values[0] = 10.0
	d.C.ColIdx[1] = 1
	d.C.Values[1] = 12.0

	assert.NoError(t, d.SpGEMMCheckResult())
}

func TestSpGEMMCheckResultRejectsWrongValue(t *testing.T) {
	a, b := newAB()
	d := &matrix.Data{A: a, B: b, ComputeResult: true}
	require.NoError(t, d.PreprocessMats())
	d.SetPhysicalAddrs(1, memproto.BlockSizeBytes)

	d.C.ColIdx[0] = 0
	d.C.Values[0] = 99.0
	d.C.ColIdx[1] = 1
	d.C.Values[1] = 12.0

	assert.Error(t, d.SpGEMMCheckResult())
}
