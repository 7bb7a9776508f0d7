package simulator_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuiPMaia/mergeforest-sim/internal/config"
	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
	"github.com/RuiPMaia/mergeforest-sim/internal/simulator"
)

func smallMats() (*matrix.CSR, *matrix.CSR) {
	a := &matrix.CSR{
		NumRows: 3, NumCols: 3, Nnz: 5,
		RowPtr: []uint32{0, 3, 4, 5},
		ColIdx: []uint32{0, 1, 2, 2, 0},
		Values: []float64{1, 2, 3, 4, 5},
	}
	b := &matrix.CSR{
		NumRows: 3, NumCols: 3, Nnz: 4,
		RowPtr: []uint32{0, 2, 4, 4},
		ColIdx: []uint32{0, 1, 0, 2},
		Values: []float64{2, 3, 4, 5},
	}
	return a, b
}

func loadConfig(t *testing.T, body string) *config.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	f, err := config.Load(path)
	require.NoError(t, err)
	return f
}

func TestSimulatorRunsGammaArchToCompletion(t *testing.T) {
	cfg := loadConfig(t, `
arch = "gamma"
clock_period_ns = 1.0

[mem]
latency = 3
bandwidth = 128

[PE_manager]
num_PEs = 2
PE_radix = 4

[fiber_cache]
size = 1536
assoc = 2
num_mem_ports = 2
`)

	a, b := smallMats()
	sim, err := simulator.New(cfg, a, b, true)
	require.NoError(t, err)

	report, err := sim.Run()
	require.NoError(t, err)
	assert.NotEmpty(t, report)
	assert.True(t, strings.Contains(report, "cycle") || strings.Contains(report, "Cycle"),
		"stats report should mention cycles: %q", report)
}

func TestSimulatorRunsMyArchToCompletion(t *testing.T) {
	cfg := loadConfig(t, `
arch = "my_arch"
clock_period_ns = 1.0

[mem]
latency = 3
bandwidth = 128

[merge_tree_manager]
num_merge_trees = 2
merge_tree_size = 4
merge_tree_merger_width = 2

[linked_list_cache]
size = 1536
inactive_rows_assoc = 4
`)

	a, b := smallMats()
	sim, err := simulator.New(cfg, a, b, true)
	require.NoError(t, err)

	report, err := sim.Run()
	require.NoError(t, err)
	assert.NotEmpty(t, report)
}

func TestSimulatorDataExposesPreprocessedMatrices(t *testing.T) {
	cfg := loadConfig(t, `
arch = "gamma"

[PE_manager]
num_PEs = 1
PE_radix = 4

[fiber_cache]
size = 768
assoc = 1
num_mem_ports = 1
`)

	a, b := smallMats()
	sim, err := simulator.New(cfg, a, b, true)
	require.NoError(t, err)

	data := sim.Data()
	require.NotNil(t, data)
	assert.Equal(t, a.NumRows, data.A.NumRows)
	assert.Greater(t, data.NumMults, uint64(0))
}

func TestSimulatorNewRejectsDimensionMismatch(t *testing.T) {
	cfg := loadConfig(t, `
arch = "gamma"

[PE_manager]
num_PEs = 1
PE_radix = 4

[fiber_cache]
size = 768
assoc = 1
`)

	a, _ := smallMats()
	bBad := &matrix.CSR{
		NumRows: 5, NumCols: 5, Nnz: 0,
		RowPtr: []uint32{0, 0, 0, 0, 0, 0},
	}

	_, err := simulator.New(cfg, a, bBad, false)
	assert.Error(t, err)
}
