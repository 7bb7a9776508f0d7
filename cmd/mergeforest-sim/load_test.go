package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseNoExtStripsDirectoryAndExtension(t *testing.T) {
	assert.Equal(t, "foo", baseNoExt("/a/b/foo.mtx"))
	assert.Equal(t, "foo", baseNoExt("foo.mtx"))
	assert.Equal(t, "foo.bar", baseNoExt("foo.bar.mtx"))
}

func TestOutnamePrefersExplicitValue(t *testing.T) {
	got := outname("explicit", "a.mtx", "b.mtx", "stats")
	assert.Equal(t, "explicit", got)
}

func TestOutnameDerivesFromSingleMatrixBaseName(t *testing.T) {
	got := outname("", "/x/a.mtx", "", "stats")
	assert.Equal(t, "a_stats", got)
}

func TestOutnameDerivesFromBothMatrixBaseNames(t *testing.T) {
	got := outname("", "/x/a.mtx", "/y/b.mtx", "stats")
	assert.Equal(t, "a_b_stats", got)
}

func TestOutnameFallsBackToAFreshIDWhenBaseNameIsEmpty(t *testing.T) {
	got := outname("", "", "", "stats")
	assert.NotEmpty(t, got)
	assert.NotEqual(t, "_stats", got)
}

func writeMtx(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const squareMtx = `%%MatrixMarket matrix coordinate real general
2 2 2
1 1 1.5
2 2 2.5
`

const rectMtx = `%%MatrixMarket matrix coordinate real general
2 3 2
1 1 1.0
2 3 2.0
`

func TestLoadMatricesUsesMatrix2WhenGiven(t *testing.T) {
	dir := t.TempDir()
	p1 := writeMtx(t, dir, "a.mtx", rectMtx)
	p2 := writeMtx(t, dir, "b.mtx", squareMtx)

	a, b, err := loadMatrices(p1, p2)
	require.NoError(t, err)
	assert.Equal(t, 2, a.NumRows)
	assert.Equal(t, 3, a.NumCols)
	assert.Equal(t, 2, b.NumRows)
	assert.Equal(t, 2, b.NumCols)
}

func TestLoadMatricesReusesSquareMatrixAsB(t *testing.T) {
	dir := t.TempDir()
	p1 := writeMtx(t, dir, "a.mtx", squareMtx)

	a, b, err := loadMatrices(p1, "")
	require.NoError(t, err)
	assert.Same(t, a, b, "a square A must be reused directly as B")
}

func TestLoadMatricesTransposesRectangularMatrixForB(t *testing.T) {
	dir := t.TempDir()
	p1 := writeMtx(t, dir, "a.mtx", rectMtx)

	a, b, err := loadMatrices(p1, "")
	require.NoError(t, err)
	assert.Equal(t, a.NumCols, b.NumRows)
	assert.Equal(t, a.NumRows, b.NumCols)
}

func TestLoadMatricesPropagatesReadErrors(t *testing.T) {
	_, _, err := loadMatrices(filepath.Join(t.TempDir(), "missing.mtx"), "")
	assert.Error(t, err)
}
