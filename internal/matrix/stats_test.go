package matrix_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
)

func TestPrintSpGEMMStatsReportsCounts(t *testing.T) {
	a, b := newAB()

	var buf strings.Builder
	require.NoError(t, matrix.PrintSpGEMMStats(&buf, a, b))

	out := buf.String()
	assert.Contains(t, out, "number of mults: 2")
	assert.Contains(t, out, "nnz of result: 2")
	assert.Contains(t, out, "dimensions: 2x2")
}

func TestPrintSpGEMMStatsPropagatesDimensionError(t *testing.T) {
	a := &matrix.CSR{NumRows: 1, NumCols: 2, RowPtr: []uint32{0, 0}}
	b := &matrix.CSR{NumRows: 3, NumCols: 2, RowPtr: []uint32{0, 0, 0, 0}}
	var buf strings.Builder
	assert.Error(t, matrix.PrintSpGEMMStats(&buf, a, b))
}
