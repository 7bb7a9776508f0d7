package matrix

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

type mtxFormat int

const (
	fmtCoordinate mtxFormat = iota
)

type mtxType int

const (
	typePattern mtxType = iota
	typeReal
	typeInteger
	typeComplex
)

type mtxSymmetry int

const (
	symGeneral mtxSymmetry = iota
	symSymmetric
	symHermitian
	symSkewSymmetric
)

type mtxHeader struct {
	format   mtxFormat
	typ      mtxType
	symmetry mtxSymmetry
}

func parseHeader(line string) (mtxHeader, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return mtxHeader{}, fmt.Errorf("matrix market: invalid header %q", line)
	}
	identifier, object, format, typ, symmetry := fields[0], fields[1], fields[2], fields[3], fields[4]

	if identifier != "%%MatrixMarket" {
		return mtxHeader{}, fmt.Errorf("matrix market: invalid header")
	}
	if object != "matrix" {
		return mtxHeader{}, fmt.Errorf("matrix market: invalid object type [%s]", object)
	}
	if format != "coordinate" {
		return mtxHeader{}, fmt.Errorf("matrix market: invalid storage format [%s]", format)
	}

	var h mtxHeader
	h.format = fmtCoordinate

	switch typ {
	case "pattern":
		h.typ = typePattern
	case "real":
		h.typ = typeReal
	case "integer":
		h.typ = typeInteger
	case "complex":
		h.typ = typeComplex
	default:
		return mtxHeader{}, fmt.Errorf("matrix market: invalid data type [%s]", typ)
	}

	switch symmetry {
	case "general":
		h.symmetry = symGeneral
	case "symmetric":
		h.symmetry = symSymmetric
	case "hermitian":
		h.symmetry = symHermitian
	case "skew-symmetric":
		h.symmetry = symSkewSymmetric
	default:
		return mtxHeader{}, fmt.Errorf("matrix market: invalid symmetry type [%s]", symmetry)
	}

	if h.typ != typeComplex && h.symmetry == symHermitian {
		return mtxHeader{}, fmt.Errorf("matrix market: invalid combination [%s, hermitian]", typ)
	}
	if h.typ == typePattern && h.symmetry == symSkewSymmetric {
		return mtxHeader{}, fmt.Errorf("matrix market: invalid combination [pattern, skew-symmetric]")
	}
	if h.typ == typeComplex {
		return mtxHeader{}, fmt.Errorf("matrix market: data type [complex] not supported")
	}
	return h, nil
}

type cooEntry struct {
	row, col uint32
	val      float64
}

// ReadMatrixMarketFile reads a sparse matrix in Matrix Market
// coordinate format, mirroring B = mirrored(A) emission for symmetric
// (same value) and skew-symmetric (negated value) matrices, and
// compacts the resulting COO triples into CSR.
//
// Grounded on read_matrix_market_file (matrix_IO.cpp).
func ReadMatrixMarketFile(filename string) (*CSR, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("matrix market: opening %q: %w", filename, err)
	}
	defer f.Close()
	return ReadMatrixMarket(f)
}

// ReadMatrixMarket is ReadMatrixMarketFile over an already-open
// reader.
func ReadMatrixMarket(r io.Reader) (*CSR, error) {
	br := bufio.NewReader(r)

	headerLine, err := readLine(br)
	if err != nil {
		return nil, fmt.Errorf("matrix market: reading header: %w", err)
	}
	header, err := parseHeader(headerLine)
	if err != nil {
		return nil, err
	}

	var sizeLine string
	for {
		sizeLine, err = readLine(br)
		if err != nil {
			return nil, fmt.Errorf("matrix market: reading size line: %w", err)
		}
		if !strings.HasPrefix(sizeLine, "%") {
			break
		}
	}

	var numRows, numCols, nnz int
	if _, err := fmt.Sscan(sizeLine, &numRows, &numCols, &nnz); err != nil {
		return nil, fmt.Errorf("matrix market: invalid size line %q: %w", sizeLine, err)
	}

	coo := make([]cooEntry, 0, nnz)
	for i := 0; i < nnz; i++ {
		line, err := readLine(br)
		if err != nil {
			return nil, fmt.Errorf("matrix market: reading entry %d: %w", i, err)
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("matrix market: invalid data line %q", line)
		}
		rowIdx, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("matrix market: invalid data: %w", err)
		}
		colIdx, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("matrix market: invalid data: %w", err)
		}
		if rowIdx < 1 || colIdx < 1 || rowIdx > numRows || colIdx > numCols {
			return nil, fmt.Errorf("matrix market: invalid index (%d,%d)", rowIdx, colIdx)
		}
		value := 1.0
		if header.typ == typeReal || header.typ == typeInteger {
			if len(fields) < 3 {
				return nil, fmt.Errorf("matrix market: missing value on line %q", line)
			}
			value, err = strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return nil, fmt.Errorf("matrix market: invalid data: %w", err)
			}
		}

		coo = append(coo, cooEntry{uint32(rowIdx - 1), uint32(colIdx - 1), value})
		if rowIdx != colIdx {
			switch header.symmetry {
			case symSymmetric:
				coo = append(coo, cooEntry{uint32(colIdx - 1), uint32(rowIdx - 1), value})
			case symSkewSymmetric:
				coo = append(coo, cooEntry{uint32(colIdx - 1), uint32(rowIdx - 1), -value})
			}
		}
	}

	sort.Slice(coo, func(i, j int) bool {
		if coo[i].row != coo[j].row {
			return coo[i].row < coo[j].row
		}
		return coo[i].col < coo[j].col
	})

	m := &CSR{
		NumRows: numRows,
		NumCols: numCols,
		Nnz:     len(coo),
	}
	m.RowPtr = make([]uint32, numRows+1)
	m.ColIdx = make([]uint32, m.Nnz)
	m.Values = make([]float64, m.Nnz)

	var prevRow uint32
	for i, e := range coo {
		m.ColIdx[i] = e.col
		m.Values[i] = e.val
		for j := prevRow; j < e.row; j++ {
			m.RowPtr[j+1] = uint32(i)
		}
		prevRow = e.row
	}
	for i := int(prevRow); i < numRows; i++ {
		m.RowPtr[i+1] = uint32(m.Nnz)
	}

	return m, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
