package forest

import (
	"fmt"
	"log"

	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
	"github.com/RuiPMaia/mergeforest-sim/internal/portfabric"
	"github.com/RuiPMaia/mergeforest-sim/internal/rowsource"
)

// Config holds the [merge_tree_manager] and [linked_list_cache]
// sections of the TOML configuration (spec §6). NumCPartialSlots,
// unconfigured by the spec exactly as in internal/baseline, is left
// zero by DefaultConfig; internal/config sets it to four per merge
// tree.
type Config struct {
	NumMergeTrees          int
	MergeTreeSize          int
	MergeTreeMergerWidth   int
	NumFinalMergers        int
	FinalMergerWidth       int
	InputBufferSize        int
	OutputBufferSize       int
	PrefetchedRowsPerCycle int
	ARowPtrBufferSize      int
	AValuesBufferSize      int
	BRowPtrEndBufferSize   int

	LLCacheNumBlocks      int
	LLCacheInactiveAssoc  int
	LLCacheMaxFetchedRows int
	LLCacheSampleInterval int

	NumCPartialSlots int
}

// DefaultConfig fills in every default named in spec §6. NumFinalMergers
// defaults to 1 (one concurrent dynamic-node merge per cycle) and
// FinalMergerWidth to 2.
func DefaultConfig() Config {
	return Config{
		NumFinalMergers:        1,
		FinalMergerWidth:       2,
		InputBufferSize:        16,
		OutputBufferSize:       16,
		PrefetchedRowsPerCycle: 4,
		ARowPtrBufferSize:      128,
		AValuesBufferSize:      1024,
		BRowPtrEndBufferSize:   1024,
		LLCacheMaxFetchedRows:  4,
		LLCacheSampleInterval:  10000,
	}
}

// Forest is the merge-forest accelerator's top-level driver: the
// merge-tree manager, the linked-list cache, and the shared main
// memory they both talk to, clocked by Step per §5's exact phase
// ordering.
//
// Grounded on merge_tree_manager.cpp's top-level run loop and
// print_stats_impl, generalized from internal/baseline.Baseline.
type Forest struct {
	cfg  Config
	data *matrix.Data

	Manager       *MergeTreeManager
	Cache         *LinkedListCache
	Mem           *mainmem.MainMemory
	Pool          *PartialPool
	ClockPeriodNs float64

	cycle uint64
}

// New wires a full Forest instance: the row source streaming data's
// preprocessed A arrays, the merge-tree array, the linked-list cache,
// the shared partial-fiber pool, and one main memory sized to serve
// every port the components need.
func New(cfg Config, memCfg mainmem.Config, clockPeriodNs float64, data *matrix.Data) *Forest {
	records := make([]rowsource.RowRecord, len(data.PreprocARowIdx))
	for i := range records {
		records[i] = rowsource.RowRecord{
			ARowIdx:    data.PreprocARowIdx[i],
			CRowPtr:    data.PreprocCRowPtr[i],
			NumBInputs: data.PreprocARowPtr[i+1] - data.PreprocARowPtr[i],
		}
	}

	rows := rowsource.New(
		records, data.AddrPreprocARowIdx, cfg.ARowPtrBufferSize,
		data.PreprocAValues, data.AddrPreprocAValues, cfg.AValuesBufferSize,
		data.PreprocBRowPtrEnd, data.AddrPreprocBRowPtrEnd, cfg.BRowPtrEndBufferSize,
		"merge_tree_manager.rows",
	)

	pool := NewPartialPool(cfg.NumCPartialSlots)

	numDynNodes := cfg.NumMergeTrees - 1
	if numDynNodes < 0 {
		numDynNodes = 0
	}
	numMemPorts := 1 + cfg.NumMergeTrees + numDynNodes + 1 // rows, one write port per tree, one per dynamic node, one shared fetch port
	mem := mainmem.New(memCfg, numMemPorts)

	next := 0
	allocPort := func() *mainmem.Port {
		p := mem.Port(next)
		next++
		return p
	}

	cacheMemPort := mainmem.NewRequesterPort("linked_list_cache.fetch")
	cache := NewLinkedListCache(cfg.LLCacheNumBlocks, cfg.LLCacheInactiveAssoc, cfg.NumMergeTrees,
		cfg.LLCacheMaxFetchedRows, data.PreprocBRowPtrEnd, cacheMemPort,
		data.B.ColIdx, data.B.Values, data.AddrBElements)
	cache.SetPrefetchBudget(cfg.PrefetchedRowsPerCycle)

	mgr := NewMergeTreeManager(cfg.NumMergeTrees, cfg.MergeTreeSize, cfg.MergeTreeMergerWidth,
		cfg.NumFinalMergers, cfg.FinalMergerWidth,
		memproto.ElementSize, data.AddrCElements,
		cfg.InputBufferSize, memproto.Address(cfg.OutputBufferSize)*memproto.ElementSize,
		pool, rows, cache, data.C)

	mgr.ConnectMainMemory(allocPort)
	portfabric.Connect(cacheMemPort, allocPort())
	mgr.ConnectCache(cache)

	return &Forest{
		cfg: cfg, data: data,
		Manager: mgr, Cache: cache, Mem: mem, Pool: pool,
		ClockPeriodNs: clockPeriodNs,
	}
}

// Finished reports whether the run has reached quiescence: every row
// scheduled and every merge unit drained, and memory fully drained.
func (f *Forest) Finished() bool {
	return f.Manager.Finished() && f.Mem.Inactive()
}

// Cycle returns the current cycle count.
func (f *Forest) Cycle() uint64 { return f.cycle }

// Step runs exactly one cycle of the §5 driver loop.
func (f *Forest) Step() {
	f.Manager.Update()
	f.Cache.Update()
	f.Mem.Update()
	f.Cache.Apply()
	f.Manager.Apply()
	f.cycle++
	if f.cycle%uint64(f.sampleInterval()) == 0 {
		log.Printf("forest: cycle %d", f.cycle)
	}
}

func (f *Forest) sampleInterval() int {
	if f.cfg.LLCacheSampleInterval <= 0 {
		return 10000
	}
	return f.cfg.LLCacheSampleInterval
}

// Run drives the simulation to completion and returns the final
// stats report.
func (f *Forest) Run() Stats {
	for !f.Finished() {
		f.Step()
	}
	return f.Stats()
}

// CheckValidSimulation logs every non-fatal consistency warning of
// spec §7 that this architecture's counters can reproduce.
func (f *Forest) CheckValidSimulation() {
	var totalMults, totalAdds uint64
	for _, u := range f.Manager.Units {
		totalMults += u.Mults
		totalAdds += u.tree.Adds
	}
	for _, n := range f.Manager.DynNodes {
		totalAdds += n.Adds
	}
	if totalMults != f.data.NumMults {
		log.Printf("forest: consistency warning: num_mults mismatch: preprocessor=%d merge units=%d",
			f.data.NumMults, totalMults)
	}
	if totalMults-totalAdds != uint64(f.data.C.Nnz) {
		log.Printf("forest: consistency warning: num_mults - num_adds (%d) != C.nnz (%d)",
			totalMults-totalAdds, f.data.C.Nnz)
	}
	componentReads := f.Manager.Rows.PreprocAReads + f.Cache.Fetches
	if f.Mem.ReadRequests != componentReads {
		log.Printf("forest: consistency warning: main memory read count (%d) != sum of component reads (%d)",
			f.Mem.ReadRequests, componentReads)
	}
}

// Stats is the Forest top-level report, the merge-forest analogue of
// internal/baseline.Stats.
//
// Grounded on merge_tree_manager.cpp's print_stats_impl.
type Stats struct {
	Cycles          uint64
	ClockPeriodNs   float64
	ExecutionTimeNs float64

	NumMults uint64
	NumAdds  uint64
	CNnz     int
	GFlops   float64

	NumMergeTrees   int
	IdleCycleRatio  float64
	WriteStallRatio float64
	AvgElementsOut  float64

	CacheHits      uint64
	CacheFetches   uint64
	CacheEvictions uint64

	MemReadRequests    uint64
	MemWriteRequests   uint64
	MemBandwidthBPerCy float64

	OperationalIntensity float64
}

// Stats computes the final report from every counter this driver
// tracked over the run.
func (f *Forest) Stats() Stats {
	var totalMults, totalAdds, totalIdle, totalWriteStall, totalOut uint64
	for _, u := range f.Manager.Units {
		totalMults += u.Mults
		totalAdds += u.tree.Adds
		totalIdle += u.IdleCycles
		totalWriteStall += u.WriteStallCycles
		totalOut += u.ElementsOut
	}
	for _, n := range f.Manager.DynNodes {
		totalAdds += n.Adds
		totalOut += n.ElementsOut
	}

	n := float64(f.cycle)
	if n == 0 {
		n = 1
	}
	numTrees := float64(len(f.Manager.Units))
	if numTrees == 0 {
		numTrees = 1
	}

	execNs := float64(f.cycle) * f.ClockPeriodNs
	var gflops float64
	if execNs > 0 {
		gflops = float64(2*totalMults) / execNs
	}

	totalMemReqs := f.Mem.ReadRequests + f.Mem.WriteRequests
	bw := float64(totalMemReqs) * memproto.MemTransactionSize / n

	bytesB := f.data.MaxBytesBData
	var intensity float64
	if bytesB > 0 {
		intensity = float64(2*totalMults) / float64(bytesB)
	}

	return Stats{
		Cycles:          f.cycle,
		ClockPeriodNs:   f.ClockPeriodNs,
		ExecutionTimeNs: execNs,

		NumMults: totalMults,
		NumAdds:  totalAdds,
		CNnz:     f.data.C.Nnz,
		GFlops:   gflops,

		NumMergeTrees:   len(f.Manager.Units),
		IdleCycleRatio:  float64(totalIdle) / (n * numTrees),
		WriteStallRatio: float64(totalWriteStall) / (n * numTrees),
		AvgElementsOut:  float64(totalOut) / numTrees,

		CacheHits:      f.Cache.Hits,
		CacheFetches:   f.Cache.Fetches,
		CacheEvictions: f.Cache.Evictions,

		MemReadRequests:    f.Mem.ReadRequests,
		MemWriteRequests:   f.Mem.WriteRequests,
		MemBandwidthBPerCy: bw,

		OperationalIntensity: intensity,
	}
}

// String renders the report the way merge_tree_manager.cpp's
// print_stats_impl writes it to the run's stats text file.
func (s Stats) String() string {
	return fmt.Sprintf(
		"cycles: %d\n"+
			"clock_period_ns: %g\n"+
			"execution_time_ns: %g\n"+
			"num_mults: %d\n"+
			"num_adds: %d\n"+
			"C_nnz: %d\n"+
			"gflops: %g\n"+
			"num_merge_trees: %d\n"+
			"idle_cycle_ratio: %g\n"+
			"write_stall_ratio: %g\n"+
			"avg_elements_out_per_tree: %g\n"+
			"cache_hits: %d\n"+
			"cache_fetches: %d\n"+
			"cache_evictions: %d\n"+
			"mem_read_requests: %d\n"+
			"mem_write_requests: %d\n"+
			"mem_bandwidth_bytes_per_cycle: %g\n"+
			"operational_intensity: %g\n",
		s.Cycles, s.ClockPeriodNs, s.ExecutionTimeNs,
		s.NumMults, s.NumAdds, s.CNnz, s.GFlops,
		s.NumMergeTrees, s.IdleCycleRatio, s.WriteStallRatio, s.AvgElementsOut,
		s.CacheHits, s.CacheFetches, s.CacheEvictions,
		s.MemReadRequests, s.MemWriteRequests, s.MemBandwidthBPerCy,
		s.OperationalIntensity,
	)
}

// Reset rewinds every component and counter for a fresh run over the
// same data (spec §6: reset reproducibility).
func (f *Forest) Reset() {
	f.Manager.Reset()
	f.Cache.Reset()
	f.Mem.Reset()
	f.cycle = 0
}
