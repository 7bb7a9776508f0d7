package matrix

// packed is the 64-bit-word packed-bitset representation of a
// matrix's column structure, bucketed every 64 columns. It backs the
// k-way heap merge in the symbolic phase: each row's leading sets are
// addressable by bucket index, and OR-ing words together is how the
// phase counts "number of columns filled" cheaply via popcount.
//
// Grounded on Spmat_Packed (sparse_matrix.{hpp,cpp}).
type packed struct {
	rowPtr    []uint32 // length NumRows+1, offsets into colSetIdx/colSet
	colSetIdx []uint32 // bucket index (column/64) of each set
	colSet    []uint64 // bitset of columns within that bucket
}

func newPacked(m *CSR) *packed {
	p := &packed{rowPtr: make([]uint32, m.NumRows+1)}

	for i := 0; i < m.NumRows; i++ {
		var counter uint32
		var idx uint32
		for j := m.RowPtr[i]; j < m.RowPtr[i+1]; j++ {
			col := m.ColIdx[j]
			if col >= idx {
				counter++
				if col%64 == 0 {
					idx = col + 64
				} else {
					idx = roundUpMultiple(col, 64)
				}
			}
		}
		p.rowPtr[i+1] = p.rowPtr[i] + counter
	}

	numSets := p.rowPtr[m.NumRows]
	p.colSetIdx = make([]uint32, numSets)
	p.colSet = make([]uint64, numSets)

	for i := 0; i < m.NumRows; i++ {
		k := p.rowPtr[i]
		var idx uint32
		for j := m.RowPtr[i]; j < m.RowPtr[i+1]; j++ {
			col := m.ColIdx[j]
			if col >= idx {
				if col%64 == 0 {
					idx = col + 64
				} else {
					idx = roundUpMultiple(col, 64)
				}
				p.colSetIdx[k] = idx/64 - 1
				p.colSet[k] = 0
				k++
			}
			p.colSet[k-1] |= uint64(1) << (col % 64)
		}
	}

	return p
}
