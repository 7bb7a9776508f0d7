// Package config loads the TOML configuration file (spec §6) and
// translates its sections into the per-component Config structs
// internal/baseline, internal/forest, and internal/mainmem expect.
//
// Grounded on the original's toml.hpp usage (toml::parse, toml::find,
// toml::find_or) generalized to github.com/pelletier/go-toml/v2,
// the out-of-pack dependency named in DESIGN.md.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/RuiPMaia/mergeforest-sim/internal/baseline"
	"github.com/RuiPMaia/mergeforest-sim/internal/forest"
	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
)

// ArchGamma and ArchMyArch are the two values the top-level `arch` key
// accepts.
const (
	ArchGamma  = "gamma"
	ArchMyArch = "my_arch"
)

type memSection struct {
	Latency   int `toml:"latency"`
	Bandwidth int `toml:"bandwidth"`
}

type peManagerSection struct {
	NumPEs                 int `toml:"num_PEs"`
	PERadix                int `toml:"PE_radix"`
	PEInputBufferSize      int `toml:"PE_input_buffer_size"`
	PEOutputBufferSize     int `toml:"PE_output_buffer_size"`
	PrefetchedRowsPerCycle int `toml:"prefetched_rows_per_cycle"`
	ARowPtrBufferSize      int `toml:"A_row_ptr_buffer_size"`
	AValuesBufferSize      int `toml:"A_values_buffer_size"`
	BRowPtrEndBufferSize   int `toml:"B_row_ptr_end_buffer_size"`
}

type fiberCacheSection struct {
	SizeBytes      int64 `toml:"size"`
	NumBanks       int   `toml:"num_banks"`
	Assoc          int   `toml:"assoc"`
	NumMemPorts    int   `toml:"num_mem_ports"`
	SampleInterval int   `toml:"sample_interval"`
}

type mergeTreeManagerSection struct {
	NumMergeTrees        int `toml:"num_merge_trees"`
	MergeTreeSize        int `toml:"merge_tree_size"`
	MergeTreeMergerWidth int `toml:"merge_tree_merger_width"`
	MergeTreeMergerNumAdds int `toml:"merge_tree_merger_num_adds"`
	NumFinalMergers      int `toml:"num_final_mergers"`
	FinalMergerWidth     int `toml:"final_merger_width"`
	InputBufferSize      int `toml:"input_buffer_size"`
	OutputBufferSize     int `toml:"output_buffer_size"`
	NumMemPorts          int `toml:"num_mem_ports"`
	MaxPrefetchedRows    int `toml:"max_prefetched_rows"`
}

type linkedListCacheSection struct {
	SizeBytes              int64 `toml:"size"`
	NumMemPorts            int   `toml:"num_mem_ports"`
	MaxFetchedRows         int   `toml:"max_fetched_rows"`
	MaxInactiveRows        int   `toml:"max_inactive_rows"`
	InactiveRowsAssoc      int   `toml:"inactive_rows_assoc"`
	MaxActiveRows          int   `toml:"max_active_rows"`
	NumBanks               int   `toml:"num_banks"`
	MaxOutstandingReqs     int   `toml:"max_outstanding_reqs"`
	PrefetchedRowsPerCycle int   `toml:"prefetched_rows_per_cycle"`
	SampleInterval         int   `toml:"sample_interval"`
}

// File is the root of the TOML document.
type File struct {
	Arch            string                  `toml:"arch"`
	ClockPeriodNs   float64                 `toml:"clock_period_ns"`
	Mem             memSection              `toml:"mem"`
	PEManager       peManagerSection        `toml:"PE_manager"`
	FiberCache      fiberCacheSection       `toml:"fiber_cache"`
	MergeTreeManager mergeTreeManagerSection `toml:"merge_tree_manager"`
	LinkedListCache linkedListCacheSection  `toml:"linked_list_cache"`
}

// Load reads and parses a configuration file, filling every default
// named in spec §6 for a key the file omits.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	f := defaultFile()
	if err := toml.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("config: malformed TOML: %w", err)
	}
	if f.Arch != ArchGamma && f.Arch != ArchMyArch {
		return nil, fmt.Errorf("config: arch must be %q or %q, got %q", ArchGamma, ArchMyArch, f.Arch)
	}
	return f, nil
}

func defaultFile() *File {
	return &File{
		ClockPeriodNs: 1.0,
		Mem:           memSection{Latency: 80, Bandwidth: 128},
		PEManager: peManagerSection{
			PEInputBufferSize: 16, PEOutputBufferSize: 16, PrefetchedRowsPerCycle: 4,
			ARowPtrBufferSize: 128, AValuesBufferSize: 1024, BRowPtrEndBufferSize: 1024,
		},
		FiberCache: fiberCacheSection{SampleInterval: 10000},
		MergeTreeManager: mergeTreeManagerSection{
			InputBufferSize: 16, OutputBufferSize: 16, MaxPrefetchedRows: 1024,
		},
		LinkedListCache: linkedListCacheSection{
			SizeBytes: 3 * 1024 * 1024, NumMemPorts: 4, MaxInactiveRows: 32768,
			InactiveRowsAssoc: 16, MaxActiveRows: 1024, MaxOutstandingReqs: 800,
			PrefetchedRowsPerCycle: 4, SampleInterval: 10000,
		},
	}
}

// MainMemConfig translates the [mem] section, converting
// bytes/cycle bandwidth into transactions/cycle per spec §6.
func (f *File) MainMemConfig() mainmem.Config {
	return mainmem.Config{
		LatencyCycles:    f.Mem.Latency,
		RequestsPerCycle: f.Mem.Bandwidth / memproto.MemTransactionSize,
	}
}

// BaselineConfig translates the [PE_manager] and [fiber_cache]
// sections.
func (f *File) BaselineConfig() baseline.Config {
	cfg := baseline.DefaultConfig()
	cfg.NumPEs = f.PEManager.NumPEs
	cfg.PERadix = f.PEManager.PERadix
	cfg.PEInputBufferSize = f.PEManager.PEInputBufferSize
	cfg.PEOutputBufferSize = f.PEManager.PEOutputBufferSize
	cfg.PrefetchedRowsPerCycle = f.PEManager.PrefetchedRowsPerCycle
	cfg.ARowPtrBufferSize = f.PEManager.ARowPtrBufferSize
	cfg.AValuesBufferSize = f.PEManager.AValuesBufferSize
	cfg.BRowPtrEndBufferSize = f.PEManager.BRowPtrEndBufferSize

	cfg.FiberCacheSizeBytes = memproto.Address(f.FiberCache.SizeBytes)
	cfg.FiberCacheNumBanks = f.FiberCache.NumBanks
	cfg.FiberCacheAssoc = f.FiberCache.Assoc
	cfg.FiberCacheNumMemPorts = f.FiberCache.NumMemPorts
	if f.FiberCache.SampleInterval > 0 {
		cfg.FiberCacheSampleInterval = f.FiberCache.SampleInterval
	}

	cfg.NumCPartialSlots = 4 * cfg.NumPEs
	cfg.CPartialSlotSize = 4 * memproto.BlockSizeBytes
	return cfg
}

// ForestConfig translates the [merge_tree_manager] and
// [linked_list_cache] sections.
func (f *File) ForestConfig() forest.Config {
	cfg := forest.DefaultConfig()
	cfg.NumMergeTrees = f.MergeTreeManager.NumMergeTrees
	cfg.MergeTreeSize = f.MergeTreeManager.MergeTreeSize
	cfg.MergeTreeMergerWidth = f.MergeTreeManager.MergeTreeMergerWidth
	if f.MergeTreeManager.NumFinalMergers > 0 {
		cfg.NumFinalMergers = f.MergeTreeManager.NumFinalMergers
	}
	if f.MergeTreeManager.FinalMergerWidth > 0 {
		cfg.FinalMergerWidth = f.MergeTreeManager.FinalMergerWidth
	}
	cfg.InputBufferSize = f.MergeTreeManager.InputBufferSize
	cfg.OutputBufferSize = f.MergeTreeManager.OutputBufferSize

	cfg.LLCacheNumBlocks = int(f.LinkedListCache.SizeBytes / memproto.BlockSizeBytes)
	cfg.LLCacheInactiveAssoc = f.LinkedListCache.InactiveRowsAssoc
	if f.LinkedListCache.MaxFetchedRows > 0 {
		cfg.LLCacheMaxFetchedRows = f.LinkedListCache.MaxFetchedRows
	}
	if f.LinkedListCache.SampleInterval > 0 {
		cfg.LLCacheSampleInterval = f.LinkedListCache.SampleInterval
	}
	if f.LinkedListCache.PrefetchedRowsPerCycle > 0 {
		cfg.PrefetchedRowsPerCycle = f.LinkedListCache.PrefetchedRowsPerCycle
	}

	cfg.NumCPartialSlots = 4 * cfg.NumMergeTrees
	return cfg
}
