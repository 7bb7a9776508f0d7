package forest

import (
	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
)

// BlockReady is one completed cache-block's worth of B data, reported
// to the owning linked-list cache so it can chain a new block onto
// the row and resolve any readers blocked on the previous head.
type BlockReady struct {
	JobIdx      int
	Addr        memproto.Address // first byte address of this chunk
	NumElements int
	Last        bool
}

type fetchJob struct {
	active     bool
	addr       memproto.Address
	end        memproto.Address
	blockStart memproto.Address
	arrived    int

	pending      bool
	pendingAddr  memproto.Address
	pendingBytes int
}

// MatBFetcher round-robins reads across a fixed number of concurrently
// fetching B rows, reassembling each row's bytes into fixed-size (save
// for a final short tail) block deliveries. A row's reads start at its
// first byte and advance MemTransactionSize bytes at a time; they are
// not aligned to transaction boundaries.
//
// Grounded on matB_fetcher.{hpp,cpp}, §4.8 "Fetch path". The original
// issues across N dedicated mem ports; this fetcher issues every read
// through its single Port, and no memory-port count is configured for
// it or for the linked-list cache (see DESIGN.md).
type MatBFetcher struct {
	Port  *mainmem.RequesterPort
	jobs  []fetchJob
	rr    int
	ready []BlockReady
}

// NewMatBFetcher creates a fetcher with the given number of
// concurrent row-fetch slots.
func NewMatBFetcher(port *mainmem.RequesterPort, maxSlots int) *MatBFetcher {
	return &MatBFetcher{Port: port, jobs: make([]fetchJob, maxSlots)}
}

// NumFreeSlots reports how many row-fetch slots are idle.
func (f *MatBFetcher) NumFreeSlots() int {
	n := 0
	for i := range f.jobs {
		if !f.jobs[i].active {
			n++
		}
	}
	return n
}

// TryStart begins fetching the byte range [begin,end) in a free slot.
func (f *MatBFetcher) TryStart(begin, end memproto.Address) (int, bool) {
	for i := range f.jobs {
		if !f.jobs[i].active {
			f.jobs[i] = fetchJob{active: true, addr: begin, end: end}
			return i, true
		}
	}
	return 0, false
}

// Update issues at most one read request this cycle, round-robin
// across active, non-pending jobs.
func (f *MatBFetcher) Update() {
	if f.Port.HasMsgSend() {
		return
	}
	n := len(f.jobs)
	for try := 0; try < n; try++ {
		idx := (f.rr + try) % n
		j := &f.jobs[idx]
		if !j.active || j.pending || j.addr >= j.end {
			continue
		}
		txBytes := memproto.MemTransactionSize
		if remaining := int(j.end - j.addr); txBytes > remaining {
			txBytes = remaining
		}
		if j.arrived == 0 {
			j.blockStart = j.addr
		}
		f.Port.AddMsgSend(memproto.MemRequest{Address: j.addr, ID: uint32(idx)})
		f.Port.Transfer()
		j.pendingAddr, j.pendingBytes, j.pending = j.addr, txBytes, true
		j.addr += memproto.Address(txBytes)
		f.rr = (idx + 1) % n
		return
	}
}

// Apply drains a memory response into its job's running block, and
// reports a finished block (BlockSizeBytes worth, or a short tail at
// row end) as ready for the cache to consume.
func (f *MatBFetcher) Apply() {
	resp, ok := f.Port.TakeMsgRecv()
	if !ok {
		return
	}
	idx := int(resp.ID)
	if idx < 0 || idx >= len(f.jobs) {
		return
	}
	j := &f.jobs[idx]
	if !j.pending || resp.Address != j.pendingAddr {
		return
	}
	j.pending = false
	j.arrived += j.pendingBytes
	if j.arrived >= memproto.BlockSizeBytes || j.addr >= j.end {
		last := j.addr >= j.end
		f.ready = append(f.ready, BlockReady{JobIdx: idx, Addr: j.blockStart, NumElements: j.arrived / memproto.ElementSize, Last: last})
		j.arrived = 0
		if last {
			j.active = false
		}
	}
}

// PopReady removes and returns the oldest completed block, if any.
func (f *MatBFetcher) PopReady() (BlockReady, bool) {
	if len(f.ready) == 0 {
		return BlockReady{}, false
	}
	r := f.ready[0]
	f.ready = f.ready[1:]
	return r, true
}
