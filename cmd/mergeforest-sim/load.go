package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/xid"

	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
)

// baseNoExt strips a path down to its extension-less base name.
func baseNoExt(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// outname resolves the --outname flag: an explicit value wins, else
// the original CLI's own default naming
// (<A>[_<B>]_<suffix>) built from the input matrix base names.
// If matrix1Path has no usable base name (empty or "."), falls back to
// a fresh run identifier rather than writing to an empty file name.
func outname(explicit, matrix1Path, matrix2Path, suffix string) string {
	if explicit != "" {
		return explicit
	}
	a := baseNoExt(matrix1Path)
	if a == "" || a == "." {
		return xid.New().String()
	}
	if matrix2Path == "" {
		return a + "_" + suffix
	}
	return a + "_" + baseNoExt(matrix2Path) + "_" + suffix
}

// loadMatrices reads A from matrix1Path and derives B: matrix2Path if
// given, else A itself if square, else A's transpose (spec §6).
func loadMatrices(matrix1Path, matrix2Path string) (a, b *matrix.CSR, err error) {
	a, err = matrix.ReadMatrixMarketFile(matrix1Path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", matrix1Path, err)
	}

	if matrix2Path != "" {
		b, err = matrix.ReadMatrixMarketFile(matrix2Path)
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", matrix2Path, err)
		}
		return a, b, nil
	}

	if a.NumRows == a.NumCols {
		return a, a, nil
	}
	return a, a.Transpose(), nil
}
