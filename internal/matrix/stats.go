package matrix

import (
	"fmt"
	"io"
)

// PrintSpGEMMStats reports matrix density/row-size statistics, the
// SpGEMM multiply/add counts, the compression factor, and
// operational-intensity estimates under no B-row reuse and under
// full B-row reuse. This is the payload of the `stats` subcommand; it
// is independent of the cycle-accurate simulation and only needs the
// symbolic phase.
//
// Grounded on print_spGEMM_stats (sparse_matrix.cpp).
func PrintSpGEMMStats(w io.Writer, a, b *CSR) error {
	c, err := SymbolicPhase(a, b)
	if err != nil {
		return err
	}

	var numMults, rowsToProcess, aDataElements, minBytesBData uint64
	var aMax, aMin, bMax, bMin uint64
	aMin, bMin = uint64(a.NumRows), uint64(b.NumRows)
	seen := map[uint32]bool{}

	for i := 0; i < a.NumRows; i++ {
		var nonEmpty uint64
		for j := a.RowPtr[i]; j < a.RowPtr[i+1]; j++ {
			col := a.ColIdx[j]
			bRowSize := uint64(b.RowSize(int(col)))
			if bRowSize > 0 {
				if !seen[col] {
					seen[col] = true
					minBytesBData += bRowSize
				}
				nonEmpty++
				numMults += bRowSize
			}
			if bRowSize > bMax {
				bMax = bRowSize
			}
			if bRowSize < bMin {
				bMin = bRowSize
			}
		}
		aRowSize := uint64(a.RowSize(i))
		if aRowSize > aMax {
			aMax = aRowSize
		}
		if aRowSize < aMin {
			aMin = aRowSize
		}
		if nonEmpty > 0 {
			rowsToProcess++
			aDataElements += nonEmpty
		}
	}

	fmt.Fprintf(w, "*---Matrix A---*\n")
	fmt.Fprintf(w, "dimensions: %dx%d\n", a.NumRows, a.NumCols)
	fmt.Fprintf(w, "nnz: %d\n", a.Nnz)
	fmt.Fprintf(w, "density: %.4e\n", (float64(a.Nnz)/float64(a.NumRows))/float64(a.NumCols))
	fmt.Fprintf(w, "avg nnz per row: %.4f\n", float64(a.Nnz)/float64(a.NumRows))
	fmt.Fprintf(w, "max nnz per row: %d\n", aMax)
	fmt.Fprintf(w, "min nnz per row: %d\n", aMin)
	fmt.Fprintf(w, "*---Matrix B---*\n")
	fmt.Fprintf(w, "dimensions: %dx%d\n", b.NumRows, b.NumCols)
	fmt.Fprintf(w, "nnz: %d\n", b.Nnz)
	fmt.Fprintf(w, "density: %.4e\n", (float64(b.Nnz)/float64(b.NumRows))/float64(b.NumCols))
	fmt.Fprintf(w, "avg nnz per row: %.4f\n", float64(b.Nnz)/float64(b.NumRows))
	fmt.Fprintf(w, "max nnz per row: %d\n", bMax)
	fmt.Fprintf(w, "min nnz per row: %d\n", bMin)
	fmt.Fprintf(w, "*---SpGEMM---*\n")
	fmt.Fprintf(w, "number of mults: %d\n", numMults)
	fmt.Fprintf(w, "number of adds: %d\n", numMults-uint64(c.Nnz))
	fmt.Fprintf(w, "nnz of result: %d\n", c.Nnz)
	fmt.Fprintf(w, "compression factor (n_mults/result nnz): %.4f\n", float64(numMults)/float64(c.Nnz))

	const u32, f64 = 4, 8
	aBytes := rowsToProcess*3*u32 + aDataElements*(f64+2*u32)
	cBytes := uint64(c.Nnz) * (u32 + f64)
	bMaxBytes := numMults * (u32 + f64)
	minBytesBData *= u32 + f64

	fmt.Fprintf(w, "A data bytes: %d (%.4f MB)\n", aBytes, float64(aBytes)*1e-6)
	fmt.Fprintf(w, "C data bytes: %d (%.4f MB)\n", cBytes, float64(cBytes)*1e-6)
	fmt.Fprintf(w, "B compulsory data bytes: %d (%.4f MB)\n", minBytesBData, float64(minBytesBData)*1e-6)
	fmt.Fprintf(w, "B maximum data bytes: %d (%.4f MB)\n", bMaxBytes, float64(bMaxBytes)*1e-6)
	fmt.Fprintf(w, "operational intensity (no B row reuse): %.4f flops/byte\n",
		float64(numMults)/float64(aBytes+bMaxBytes+cBytes))
	fmt.Fprintf(w, "operational intensity (full B row reuse): %.4f flops/byte\n",
		float64(numMults)/float64(aBytes+minBytesBData+cBytes))
	return nil
}
