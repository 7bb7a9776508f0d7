package baseline_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuiPMaia/mergeforest-sim/internal/baseline"
	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
)

// smallMats builds a 3x3 A and B pair with a three-way row fan-in
// (exercising merge, not just pass-through) and at least one empty
// A/B match (exercising the "skip empty B row" preprocessing rule).
func smallMats() (*matrix.CSR, *matrix.CSR) {
	// A (3x3): row0 -> col0=1, col1=2, col2=3 (three-way merge).
	// row1 -> col2=4 (an empty B row: B row2 is empty, so row1
	// produces no output via this column but the nonzero itself is
	// still flattened into A's CSR).
	// row2 -> col0=5.
	a := &matrix.CSR{
		NumRows: 3, NumCols: 3, Nnz: 5,
		RowPtr: []uint32{0, 3, 4, 5},
		ColIdx: []uint32{0, 1, 2, 2, 0},
		Values: []float64{1, 2, 3, 4, 5},
	}
	// B (3x3): row0 -> col0=2,col1=3; row1 -> col0=4,col2=5; row2 -> empty.
	b := &matrix.CSR{
		NumRows: 3, NumCols: 3, Nnz: 4,
		RowPtr: []uint32{0, 2, 4, 4},
		ColIdx: []uint32{0, 1, 0, 2},
		Values: []float64{2, 3, 4, 5},
	}
	return a, b
}

func runBaseline(t *testing.T, cfg baseline.Config) (*baseline.Baseline, *matrix.Data) {
	a, b := smallMats()
	return runBaselineWith(t, cfg, a, b)
}

func runBaselineWith(t *testing.T, cfg baseline.Config, a, b *matrix.CSR) (*baseline.Baseline, *matrix.Data) {
	data := &matrix.Data{A: a, B: b, ComputeResult: true}
	require.NoError(t, data.PreprocessMats())
	data.SetPhysicalAddrs(cfg.NumCPartialSlots, cfg.CPartialSlotSize)

	memCfg := mainmem.Config{LatencyCycles: 3, RequestsPerCycle: 4}
	bl := baseline.New(cfg, memCfg, 1.0, data)
	return bl, data
}

// wideFanInMats builds a single A row with fanIn nonzeros, each
// matching a distinct single-nonzero B row, so the row's B fan-in
// (NumBInputs) equals fanIn exactly — enough to drive TaskTree past a
// single radix-wide task and into its multi-level fold once fanIn
// exceeds the PE radix. The B rows cycle through three output columns
// so the merge also exercises distinct-key handling, not just
// same-key accumulation.
func wideFanInMats(fanIn int) (*matrix.CSR, *matrix.CSR) {
	aColIdx := make([]uint32, fanIn)
	aValues := make([]float64, fanIn)
	for i := 0; i < fanIn; i++ {
		aColIdx[i] = uint32(i)
		aValues[i] = float64(i%3) + 1
	}
	a := &matrix.CSR{
		NumRows: 1, NumCols: fanIn, Nnz: fanIn,
		RowPtr: []uint32{0, uint32(fanIn)},
		ColIdx: aColIdx,
		Values: aValues,
	}

	bRowPtr := make([]uint32, fanIn+1)
	bColIdx := make([]uint32, fanIn)
	bValues := make([]float64, fanIn)
	for i := 0; i < fanIn; i++ {
		bRowPtr[i] = uint32(i)
		bColIdx[i] = uint32(i % 3)
		bValues[i] = float64(i + 1)
	}
	bRowPtr[fanIn] = uint32(fanIn)
	b := &matrix.CSR{
		NumRows: fanIn, NumCols: 3, Nnz: fanIn,
		RowPtr: bRowPtr,
		ColIdx: bColIdx,
		Values: bValues,
	}
	return a, b
}

func TestBaselineRunsToCompletionAndProducesCorrectResult(t *testing.T) {
	cfg := baseline.DefaultConfig()
	cfg.NumPEs = 2
	cfg.PERadix = 4
	cfg.FiberCacheSizeBytes = 16 * memproto.BlockSizeBytes
	cfg.FiberCacheNumBanks = 2
	cfg.FiberCacheAssoc = 2
	cfg.FiberCacheNumMemPorts = 2
	cfg.NumCPartialSlots = 4
	cfg.CPartialSlotSize = 4 * memproto.BlockSizeBytes

	bl, data := runBaseline(t, cfg)

	const maxCycles = 100000
	cycles := 0
	for !bl.Finished() && cycles < maxCycles {
		bl.Step()
		cycles++
	}
	require.Less(t, cycles, maxCycles, "simulation did not reach quiescence")

	assert.NoError(t, data.SpGEMMCheckResult())

	stats := bl.Stats()
	assert.Equal(t, bl.Cycle(), stats.Cycles)
	assert.Equal(t, data.NumMults, stats.NumMults)
	assert.Equal(t, data.C.Nnz, stats.CNnz)
}

// TestBaselineFiberCacheBankContentionStillProducesCorrectResult runs
// more PEs than fiber-cache banks, forcing the per-bank arbiter to
// serialize reads/writes across cycles instead of servicing every PE
// at once, and checks the result is still exactly correct under that
// contention.
func TestBaselineFiberCacheBankContentionStillProducesCorrectResult(t *testing.T) {
	cfg := baseline.DefaultConfig()
	cfg.NumPEs = 3
	cfg.PERadix = 4
	cfg.FiberCacheSizeBytes = 16 * memproto.BlockSizeBytes
	cfg.FiberCacheNumBanks = 2
	cfg.FiberCacheAssoc = 2
	cfg.FiberCacheNumMemPorts = 2
	cfg.NumCPartialSlots = 6
	cfg.CPartialSlotSize = 4 * memproto.BlockSizeBytes

	bl, data := runBaseline(t, cfg)

	const maxCycles = 100000
	cycles := 0
	for !bl.Finished() && cycles < maxCycles {
		bl.Step()
		cycles++
	}
	require.Less(t, cycles, maxCycles, "simulation did not reach quiescence")
	assert.NoError(t, data.SpGEMMCheckResult())
}

// TestBaselineTaskTreeMultiLevelFanIn covers a row B fan-in of 9-20
// at PERadix 4, forcing TaskTree through at least two folds (a radix-4
// tree tops out at 4x4=16 leaves per level, so anything above 16 needs
// a third level) including the exact-power-of-radix edge at 16.
func TestBaselineTaskTreeMultiLevelFanIn(t *testing.T) {
	for _, fanIn := range []int{9, 12, 16, 20} {
		fanIn := fanIn
		t.Run(fmt.Sprintf("fanin_%d", fanIn), func(t *testing.T) {
			cfg := baseline.DefaultConfig()
			cfg.NumPEs = 1
			cfg.PERadix = 4
			cfg.FiberCacheSizeBytes = 16 * memproto.BlockSizeBytes
			cfg.FiberCacheAssoc = 2
			cfg.FiberCacheNumMemPorts = 2
			cfg.NumCPartialSlots = 8
			cfg.CPartialSlotSize = 4 * memproto.BlockSizeBytes

			a, b := wideFanInMats(fanIn)
			bl, data := runBaselineWith(t, cfg, a, b)

			const maxCycles = 100000
			cycles := 0
			for !bl.Finished() && cycles < maxCycles {
				bl.Step()
				cycles++
			}
			require.Less(t, cycles, maxCycles, "simulation did not reach quiescence")
			assert.NoError(t, data.SpGEMMCheckResult())
		})
	}
}

func TestBaselineResetReproducesTheSameResult(t *testing.T) {
	cfg := baseline.DefaultConfig()
	cfg.NumPEs = 1
	cfg.PERadix = 4
	cfg.FiberCacheSizeBytes = 8 * memproto.BlockSizeBytes
	cfg.FiberCacheAssoc = 1
	cfg.FiberCacheNumMemPorts = 1
	cfg.NumCPartialSlots = 2
	cfg.CPartialSlotSize = 2 * memproto.BlockSizeBytes

	bl, data := runBaseline(t, cfg)
	firstStats := bl.Run()
	require.NoError(t, data.SpGEMMCheckResult())

	bl.Reset()
	secondStats := bl.Run()

	assert.Equal(t, firstStats.Cycles, secondStats.Cycles)
	assert.Equal(t, firstStats.NumMults, secondStats.NumMults)
	assert.Equal(t, firstStats.NumAdds, secondStats.NumAdds)
}
