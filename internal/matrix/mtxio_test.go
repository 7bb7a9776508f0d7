package matrix_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
)

func TestReadMatrixMarketGeneralReal(t *testing.T) {
	src := `%%MatrixMarket matrix coordinate real general
% a comment line
2 3 3
1 1 1.5
1 3 2.5
2 2 3.5
`
	m, err := matrix.ReadMatrixMarket(strings.NewReader(src))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	assert.Equal(t, 2, m.NumRows)
	assert.Equal(t, 3, m.NumCols)
	assert.Equal(t, 3, m.Nnz)

	assert.Equal(t, 2, m.RowSize(0))
	assert.Equal(t, []uint32{0, 2}, m.ColIdx[m.RowPtr[0]:m.RowPtr[1]])
	assert.Equal(t, []float64{1.5, 2.5}, m.Values[m.RowPtr[0]:m.RowPtr[1]])

	assert.Equal(t, 1, m.RowSize(1))
	assert.Equal(t, uint32(1), m.ColIdx[m.RowPtr[1]])
	assert.Equal(t, 3.5, m.Values[m.RowPtr[1]])
}

func TestReadMatrixMarketPatternSymmetric(t *testing.T) {
	src := `%%MatrixMarket matrix coordinate pattern symmetric
3 3 2
2 1
3 1
`
	m, err := matrix.ReadMatrixMarket(strings.NewReader(src))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	// every off-diagonal pattern entry is mirrored: 4 stored entries
	assert.Equal(t, 4, m.Nnz)
	assert.Equal(t, 2, m.RowSize(0))
	assert.Equal(t, 1, m.RowSize(1))
	assert.Equal(t, 1, m.RowSize(2))
	for _, v := range m.Values {
		assert.Equal(t, 1.0, v)
	}
}

func TestReadMatrixMarketSkewSymmetricNegates(t *testing.T) {
	src := `%%MatrixMarket matrix coordinate real skew-symmetric
2 2 1
2 1 4.0
`
	m, err := matrix.ReadMatrixMarket(strings.NewReader(src))
	require.NoError(t, err)
	require.NoError(t, m.Validate())
	assert.Equal(t, 2, m.Nnz)

	// row 0 gets the negated mirror, row 1 the original value
	assert.Equal(t, 1, m.RowSize(0))
	assert.Equal(t, -4.0, m.Values[m.RowPtr[0]])
	assert.Equal(t, 1, m.RowSize(1))
	assert.Equal(t, 4.0, m.Values[m.RowPtr[1]])
}

func TestReadMatrixMarketRejectsBadHeader(t *testing.T) {
	_, err := matrix.ReadMatrixMarket(strings.NewReader("not a header\n1 1 0\n"))
	assert.Error(t, err)

	_, err = matrix.ReadMatrixMarket(strings.NewReader(
		"%%MatrixMarket matrix coordinate complex general\n1 1 0\n"))
	assert.Error(t, err)

	_, err = matrix.ReadMatrixMarket(strings.NewReader(
		"%%MatrixMarket matrix coordinate pattern hermitian\n1 1 0\n"))
	assert.Error(t, err)
}

func TestReadMatrixMarketRejectsOutOfRangeIndex(t *testing.T) {
	src := `%%MatrixMarket matrix coordinate pattern general
2 2 1
3 1
`
	_, err := matrix.ReadMatrixMarket(strings.NewReader(src))
	assert.Error(t, err)
}
