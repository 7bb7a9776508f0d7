package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuiPMaia/mergeforest-sim/internal/config"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFillsDefaultsForOmittedKeys(t *testing.T) {
	path := writeConfig(t, `
arch = "gamma"

[PE_manager]
num_PEs = 8
PE_radix = 4
`)

	f, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.ArchGamma, f.Arch)
	assert.Equal(t, 1.0, f.ClockPeriodNs)
	assert.Equal(t, 80, f.Mem.Latency, "unset [mem] keys must fall back to the default")
	assert.Equal(t, 128, f.Mem.Bandwidth)
	assert.Equal(t, 8, f.PEManager.NumPEs)
	assert.Equal(t, 16, f.PEManager.PEInputBufferSize, "unset PE_manager keys must still default")
}

func TestLoadRejectsUnknownArch(t *testing.T) {
	path := writeConfig(t, `arch = "not_a_real_arch"`)

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeConfig(t, `arch = "gamma`) // unterminated string

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestMainMemConfigConvertsBandwidthToTransactionsPerCycle(t *testing.T) {
	path := writeConfig(t, `
arch = "gamma"

[mem]
latency = 50
bandwidth = 128
`)
	f, err := config.Load(path)
	require.NoError(t, err)

	memCfg := f.MainMemConfig()
	assert.Equal(t, 50, memCfg.LatencyCycles)
	assert.Equal(t, 128/memproto.MemTransactionSize, memCfg.RequestsPerCycle)
}

func TestBaselineConfigTranslatesPEManagerAndFiberCacheSections(t *testing.T) {
	path := writeConfig(t, `
arch = "gamma"

[PE_manager]
num_PEs = 4
PE_radix = 8

[fiber_cache]
size = 1048576
num_banks = 2
assoc = 4
num_mem_ports = 2
`)
	f, err := config.Load(path)
	require.NoError(t, err)

	cfg := f.BaselineConfig()
	assert.Equal(t, 4, cfg.NumPEs)
	assert.Equal(t, 8, cfg.PERadix)
	assert.Equal(t, memproto.Address(1048576), cfg.FiberCacheSizeBytes)
	assert.Equal(t, 2, cfg.FiberCacheNumBanks)
	assert.Equal(t, 4, cfg.FiberCacheAssoc)
	assert.Equal(t, 2, cfg.FiberCacheNumMemPorts)
	assert.Equal(t, 4*cfg.NumPEs, cfg.NumCPartialSlots, "partial-slot count is sized off NumPEs, not a TOML key")
}

func TestBaselineConfigKeepsDefaultSampleIntervalWhenZero(t *testing.T) {
	path := writeConfig(t, `
arch = "gamma"

[fiber_cache]
size = 1048576
`)
	f, err := config.Load(path)
	require.NoError(t, err)

	def := defaultSampleInterval()
	cfg := f.BaselineConfig()
	assert.Equal(t, def, cfg.FiberCacheSampleInterval, "an omitted sample_interval must not override the component default with zero")
}

func defaultSampleInterval() int {
	return 10000
}

func TestForestConfigTranslatesMergeTreeManagerAndLLCacheSections(t *testing.T) {
	path := writeConfig(t, `
arch = "my_arch"

[merge_tree_manager]
num_merge_trees = 6
merge_tree_size = 8
merge_tree_merger_width = 2
num_final_mergers = 3
final_merger_width = 4

[linked_list_cache]
size = 98304
inactive_rows_assoc = 8
max_fetched_rows = 64
`)
	f, err := config.Load(path)
	require.NoError(t, err)

	cfg := f.ForestConfig()
	assert.Equal(t, 6, cfg.NumMergeTrees)
	assert.Equal(t, 8, cfg.MergeTreeSize)
	assert.Equal(t, 2, cfg.MergeTreeMergerWidth)
	assert.Equal(t, 3, cfg.NumFinalMergers)
	assert.Equal(t, 4, cfg.FinalMergerWidth)
	assert.Equal(t, 98304/memproto.BlockSizeBytes, cfg.LLCacheNumBlocks)
	assert.Equal(t, 8, cfg.LLCacheInactiveAssoc)
	assert.Equal(t, 64, cfg.LLCacheMaxFetchedRows)
	assert.Equal(t, 4*cfg.NumMergeTrees, cfg.NumCPartialSlots)
}

func TestForestConfigDefaultsFinalMergerFieldsWhenOmitted(t *testing.T) {
	path := writeConfig(t, `
arch = "my_arch"

[merge_tree_manager]
num_merge_trees = 2
merge_tree_size = 4
merge_tree_merger_width = 2

[linked_list_cache]
size = 1536
inactive_rows_assoc = 4
`)
	f, err := config.Load(path)
	require.NoError(t, err)

	cfg := f.ForestConfig()
	assert.NotZero(t, cfg.NumFinalMergers, "an omitted num_final_mergers must not leave the dynamic-node layer permanently gated")
	assert.NotZero(t, cfg.FinalMergerWidth, "an omitted final_merger_width must not leave the dynamic-node layer unable to merge")
}
