package baseline

import (
	"fmt"
	"log"

	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
	"github.com/RuiPMaia/mergeforest-sim/internal/portfabric"
	"github.com/RuiPMaia/mergeforest-sim/internal/rowsource"
)

// Config holds the [PE_manager] and [fiber_cache] sections of the TOML
// configuration (spec §6), plus the C-partial pool sizing the spec
// leaves unconfigured — resolved as an open question, see DESIGN.md.
// DefaultConfig leaves both pool fields zero; internal/config sets
// NumCPartialSlots to four per PE and CPartialSlotSize to four cache
// blocks.
type Config struct {
	NumPEs                 int
	PERadix                int
	PEInputBufferSize      int
	PEOutputBufferSize     int
	PrefetchedRowsPerCycle int
	ARowPtrBufferSize      int
	AValuesBufferSize      int
	BRowPtrEndBufferSize   int

	FiberCacheSizeBytes   memproto.Address
	FiberCacheNumBanks    int
	FiberCacheAssoc       int
	FiberCacheNumMemPorts int
	FiberCacheSampleInterval int

	NumCPartialSlots int
	CPartialSlotSize memproto.Address
}

// DefaultConfig fills in every default named in spec §6.
func DefaultConfig() Config {
	return Config{
		PEInputBufferSize:        16,
		PEOutputBufferSize:       16,
		PrefetchedRowsPerCycle:   4,
		ARowPtrBufferSize:        128,
		AValuesBufferSize:        1024,
		BRowPtrEndBufferSize:     1024,
		FiberCacheSampleInterval: 10000,
	}
}

// Baseline is the row-merge accelerator's top-level driver: the PE
// manager, the fiber cache, and the shared main memory they both talk
// to, clocked by Step per §5's exact phase ordering.
//
// Grounded on gamma.cpp's top-level run loop and print_stats_impl.
type Baseline struct {
	cfg  Config
	data *matrix.Data

	Manager    *Manager
	Cache      *FiberCache
	Mem        *mainmem.MainMemory
	Pool       *PartialPool
	ClockPeriodNs float64

	cycle uint64
}

// New wires a full Baseline instance: the row source streaming
// data's preprocessed A arrays, the PE array, the fiber cache, the
// shared partial-fiber pool, and one main memory sized to serve every
// port the three components need.
func New(cfg Config, memCfg mainmem.Config, clockPeriodNs float64, data *matrix.Data) *Baseline {
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
		"pe_manager.rows",
	)

	pool := NewPartialPool(cfg.NumCPartialSlots, data.AddrCPartialsBase, cfg.CPartialSlotSize)

	mgr := NewManager(cfg.NumPEs, cfg.PERadix, memproto.ElementSize, data.AddrCElements,
		cfg.PEInputBufferSize, memproto.Address(cfg.PEOutputBufferSize)*memproto.ElementSize,
		pool, rows, data.C)
	mgr.PrefetchedRowsPerCycle = cfg.PrefetchedRowsPerCycle

	cache := NewFiberCache(cfg.FiberCacheSizeBytes, cfg.FiberCacheNumBanks, cfg.FiberCacheAssoc, cfg.NumPEs,
		cfg.FiberCacheNumMemPorts, data.PreprocBRowPtrEnd, data.AddrCPartialsBase,
		data.B.ColIdx, data.B.Values, data.AddrBElements)

	numMemPorts := 1 + cfg.NumPEs + cfg.FiberCacheNumMemPorts
	mem := mainmem.New(memCfg, numMemPorts)

	next := 0
	allocPort := func() *mainmem.Port {
		p := mem.Port(next)
		next++
		return p
	}
	mgr.ConnectMainMemory(allocPort)
	cache.ConnectMainMemory(allocPort)

	for i, pe := range mgr.PEs {
		portfabric.Connect(pe.ReadPort, cache.ReadPorts[i])
		portfabric.Connect(pe.WritePort, cache.WritePorts[i])
	}
	portfabric.Connect(mgr.PrefetchPort, cache.PrefetchPort)

	return &Baseline{
		cfg: cfg, data: data,
		Manager: mgr, Cache: cache, Mem: mem, Pool: pool,
		ClockPeriodNs: clockPeriodNs,
	}
}

// Finished reports whether the run has reached quiescence: every row
// scheduled and every PE drained, memory fully drained, and (per the
// §9 open-question resolution) the fiber cache's hard-coded-true
// Inactive.
func (b *Baseline) Finished() bool {
	return b.Manager.Finished() && b.Mem.Inactive() && b.Cache.Inactive()
}

// Cycle returns the current cycle count.
func (b *Baseline) Cycle() uint64 { return b.cycle }

// Step runs exactly one cycle of the §5 driver loop.
func (b *Baseline) Step() {
	b.Manager.Update()
	b.Cache.Update()
	b.Mem.Update()
	b.Cache.Apply()
	b.Manager.Apply()
	b.cycle++
	if b.cycle%10000 == 0 {
		log.Printf("baseline: cycle %d", b.cycle)
	}
}

// Run drives the simulation to completion and returns the final
// stats report.
func (b *Baseline) Run() Stats {
	for !b.Finished() {
		b.Step()
	}
	return b.Stats()
}

// CheckValidSimulation logs every non-fatal consistency warning of
// spec §7, reproduced field-for-field from gamma.cpp's
// check_valid_simulation.
func (b *Baseline) CheckValidSimulation() {
	var totalMults, totalAdds uint64
	for _, pe := range b.Manager.PEs {
		totalMults += pe.Mults
		totalAdds += pe.Adds
	}
	if totalMults != b.data.NumMults {
		log.Printf("baseline: consistency warning: num_mults mismatch: preprocessor=%d PEs=%d",
			b.data.NumMults, totalMults)
	}
	if totalMults-totalAdds != uint64(b.data.C.Nnz) {
		log.Printf("baseline: consistency warning: num_mults - num_adds (%d) != C.nnz (%d)",
			totalMults-totalAdds, b.data.C.Nnz)
	}
	bDataReads, cPartialReads, cPartialWrites := b.cacheTransactionCounts()
	if bDataReads < b.data.BDataMinReadsFiberCache || bDataReads > b.data.BDataMaxReadsFiberCache {
		log.Printf("baseline: consistency warning: B_data_reads (%d) outside [%d,%d]",
			bDataReads, b.data.BDataMinReadsFiberCache, b.data.BDataMaxReadsFiberCache)
	}
	if cPartialReads != cPartialWrites {
		log.Printf("baseline: consistency warning: C_partial_reads (%d) != C_partial_writes (%d)",
			cPartialReads, cPartialWrites)
	}
	componentReads := b.Manager.Rows.PreprocAReads + b.Cache.MemRequestsIssued
	if b.Mem.ReadRequests != componentReads {
		log.Printf("baseline: consistency warning: main memory read count (%d) != sum of component reads (%d)",
			b.Mem.ReadRequests, componentReads)
	}
}

// Stats is the Baseline top-level report, field-for-field the set
// gamma.cpp's print_stats_impl prints.
//
// Grounded on gamma.cpp's print_stats_impl.
type Stats struct {
	Cycles          uint64
	ClockPeriodNs   float64
	ExecutionTimeNs float64

	NumMults uint64
	NumAdds  uint64
	CNnz     int
	GFlops   float64

	NumPEs            int
	IdleCycleRatio    float64
	WriteStallRatio   float64
	BDataStallRatio   float64
	AvgElementsOut    float64

	CacheHits           uint64
	BDataReads          uint64
	CPartialReads       uint64
	CPartialWrites      uint64
	CacheEvictions      uint64
	CacheWritebacks     uint64

	MemReadRequests    uint64
	MemWriteRequests   uint64
	MemBandwidthBPerCy float64

	OperationalIntensity float64
}

// cacheTransactionCounts scales the fiber cache's per-block
// B_data_reads/C_partial_reads/C_partial_writes counters up to
// memory-transaction units: the cache itself counts one block-sized
// service per read/write (fibercache.go's serveRead/serveWrite/
// completeFill), but a block is TransactionsPerBlock transactions,
// the same units matrix.Data's B_data_reads bounds are computed in.
//
// Grounded on gamma.cpp's run_simulation, which applies this same
// *= 3 to fiber_cache.B_data_reads/C_partial_reads/C_partial_writes
// once the run loop exits, before check_valid_simulation/print_stats
// ever see them.
func (b *Baseline) cacheTransactionCounts() (bDataReads, cPartialReads, cPartialWrites uint64) {
	return b.Cache.BDataReads * uint64(memproto.TransactionsPerBlock),
		b.Cache.CPartialReads * uint64(memproto.TransactionsPerBlock),
		b.Cache.CPartialWrites * uint64(memproto.TransactionsPerBlock)
}

// Stats computes the final report from every counter this driver
// tracked over the run.
func (b *Baseline) Stats() Stats {
	var totalMults, totalAdds, totalIdle, totalWriteStall, totalBDataStall, totalOut uint64
	for _, pe := range b.Manager.PEs {
		totalMults += pe.Mults
		totalAdds += pe.Adds
		totalIdle += pe.IdleCycles
		totalWriteStall += pe.WriteStallCycles
		totalBDataStall += pe.BDataStallCycles
		totalOut += pe.ElementsOut
	}

	n := float64(b.cycle)
	if n == 0 {
		n = 1
	}
	numPEs := float64(len(b.Manager.PEs))
	if numPEs == 0 {
		numPEs = 1
	}

	execNs := float64(b.cycle) * b.ClockPeriodNs
	var gflops float64
	if execNs > 0 {
		gflops = float64(2*totalMults) / execNs
	}

	totalMemReqs := b.Mem.ReadRequests + b.Mem.WriteRequests
	bw := float64(totalMemReqs) * memproto.MemTransactionSize / n

	bytesB := b.data.MaxBytesBData
	var intensity float64
	if bytesB > 0 {
		intensity = float64(2*totalMults) / float64(bytesB)
	}

	bDataReads, cPartialReads, cPartialWrites := b.cacheTransactionCounts()

	return Stats{
		Cycles:          b.cycle,
		ClockPeriodNs:   b.ClockPeriodNs,
		ExecutionTimeNs: execNs,

		NumMults: totalMults,
		NumAdds:  totalAdds,
		CNnz:     b.data.C.Nnz,
		GFlops:   gflops,

		NumPEs:          len(b.Manager.PEs),
		IdleCycleRatio:  float64(totalIdle) / (n * numPEs),
		WriteStallRatio: float64(totalWriteStall) / (n * numPEs),
		BDataStallRatio: float64(totalBDataStall) / (n * numPEs),
		AvgElementsOut:  float64(totalOut) / numPEs,

		CacheHits:       b.Cache.Hits,
		BDataReads:      bDataReads,
		CPartialReads:   cPartialReads,
		CPartialWrites:  cPartialWrites,
		CacheEvictions:  b.Cache.Evictions,
		CacheWritebacks: b.Cache.Writebacks,

		MemReadRequests:    b.Mem.ReadRequests,
		MemWriteRequests:   b.Mem.WriteRequests,
		MemBandwidthBPerCy: bw,

		OperationalIntensity: intensity,
	}
}

// String renders the report the way gamma.cpp's print_stats_impl
// writes it to the run's stats text file.
func (s Stats) String() string {
	return fmt.Sprintf(
		"cycles: %d\n"+
			"clock_period_ns: %g\n"+
			"execution_time_ns: %g\n"+
			"num_mults: %d\n"+
			"num_adds: %d\n"+
			"C_nnz: %d\n"+
			"gflops: %g\n"+
			"num_PEs: %d\n"+
			"idle_cycle_ratio: %g\n"+
			"write_stall_ratio: %g\n"+
			"b_data_stall_ratio: %g\n"+
			"avg_elements_out_per_PE: %g\n"+
			"cache_hits: %d\n"+
			"B_data_reads: %d\n"+
			"C_partial_reads: %d\n"+
			"C_partial_writes: %d\n"+
			"cache_evictions: %d\n"+
			"cache_writebacks: %d\n"+
			"mem_read_requests: %d\n"+
			"mem_write_requests: %d\n"+
			"mem_bandwidth_bytes_per_cycle: %g\n"+
			"operational_intensity: %g\n",
		s.Cycles, s.ClockPeriodNs, s.ExecutionTimeNs,
		s.NumMults, s.NumAdds, s.CNnz, s.GFlops,
		s.NumPEs, s.IdleCycleRatio, s.WriteStallRatio, s.BDataStallRatio, s.AvgElementsOut,
		s.CacheHits, s.BDataReads, s.CPartialReads, s.CPartialWrites, s.CacheEvictions, s.CacheWritebacks,
		s.MemReadRequests, s.MemWriteRequests, s.MemBandwidthBPerCy,
		s.OperationalIntensity,
	)
}

// Reset rewinds every component and counter for a fresh run over the
// same data (spec S6: reset reproducibility).
func (b *Baseline) Reset() {
	b.Manager.Reset()
	b.Cache.Reset()
	b.Mem.Reset()
	b.cycle = 0
}
