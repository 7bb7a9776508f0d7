package forest

import (
	"errors"

	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
	"github.com/RuiPMaia/mergeforest-sim/internal/portfabric"
)

// ErrBlockAllocationExhausted is the one fatal runtime error this
// simulator defines (spec §7 "Resource exhaustion (fatal at
// runtime)"): no free or reclaimable block when a B-row fetch needs a
// new block to chain onto.
var ErrBlockAllocationExhausted = errors.New("forest: linked-list cache block allocation exhausted")

const invalidBlock = memproto.InvalidIndex

// block is one node of a B row's singly-linked chain.
type block struct {
	numElements int
	next        uint32
	last        bool
	data        []Element
}

// activeRow is a resident, reference-counted B row.
type activeRow struct {
	head      uint32
	numUses   int
	numBlocks int
}

// inactiveEntry is a zero-use row parked in the LRU table, doubly
// linked for O(1) promotion/eviction.
type inactiveEntry struct {
	valid      bool
	rowKey     memproto.Address
	head       uint32
	numBlocks  int
	prev, next int
}

// CacheReadReq/CacheReadResp are the linked-list cache's slave-port
// message pair: reads are addressed by row_ptr handle (a block index,
// memproto.InvalidIndex at end-of-chain), not by byte address — the
// handle a merge unit chases one block at a time down a row's chain.
type CacheReadReq struct {
	RowPtr uint32
}

type CacheReadResp struct {
	RowPtr      uint32 // the chain's next handle, InvalidIndex if this was the last block
	NumElements int
	Data        []Element
}

// LinkedListCache is the Forest row-granularity B-matrix cache: an
// active-rows table keyed by row begin address, an inactive LRU table
// for reclaimable-but-still-resident rows, a block arena with a free
// list, and the MatB_Fetcher that refills rows never seen or evicted.
//
// Partial fibers are not cached here: the merge-tree manager's
// dynamic nodes keep partial output resident in the shared
// PartialPool directly (see DESIGN.md) — only B data round-trips
// through this cache, which is why it exposes read ports but no write
// ports.
//
// Grounded on linked_list_cache.{hpp,cpp}, §4.8. Bank arbitration is
// not modeled: each cycle every reader port's latched request is
// served, in port-index order, with no per-bank queues and no cap on
// responses per cycle (see DESIGN.md).
type LinkedListCache struct {
	blocks   []block
	freeHead uint32

	active           map[memproto.Address]*activeRow
	inactive         []inactiveEntry
	inactiveAssoc    int
	lruHead, lruTail int
	rowKeyToInactive map[memproto.Address]int

	fetcher   *MatBFetcher
	fetchRow  map[int]memproto.Address // job idx -> row key being fetched
	fetchTail map[int]uint32           // job idx -> current tail block to chain onto

	ReadPorts []*portfabric.Port[CacheReadResp, CacheReadReq]

	// readReq/hasReadReq latch each port's recv cell one cycle after
	// Transfer fills it: Apply copies the cell here, and the next
	// cycle's Update (serveReads) is what actually consumes it, so a
	// request is never answered the same cycle it arrives.
	readReq    []CacheReadReq
	hasReadReq []bool

	pendingReaders map[uint32][]int // block index -> waiting reader port indices

	spans                  []matrix.BRowSpan
	prefetchCursor         uint32
	maxFetchedRowsPerCycle int

	// Backing B_elements array: elemIdx = (addr-addrBElements)/ElementSize
	// indexes directly into bColIdx/bValues, mirroring
	// internal/baseline.FiberCache.bDataAt.
	bColIdx       []uint32
	bValues       []float64
	addrBElements memproto.Address

	Hits, Fetches, Evictions uint64
}

// NewLinkedListCache builds a cache with numBlocks total blocks,
// serving numReaders readers, with maxFetchRows concurrent in-flight
// B-row fetches over one shared memory port.
func NewLinkedListCache(numBlocks, inactiveAssoc, numReaders, maxFetchRows int,
	spans []matrix.BRowSpan, memPort *mainmem.RequesterPort,
	bColIdx []uint32, bValues []float64, addrBElements memproto.Address) *LinkedListCache {
	c := &LinkedListCache{
		blocks:           make([]block, numBlocks),
		active:           map[memproto.Address]*activeRow{},
		inactive:         make([]inactiveEntry, 0, 1024),
		inactiveAssoc:    inactiveAssoc,
		lruHead:          -1,
		lruTail:          -1,
		rowKeyToInactive: map[memproto.Address]int{},
		fetcher:          NewMatBFetcher(memPort, maxFetchRows),
		fetchRow:         map[int]memproto.Address{},
		fetchTail:        map[int]uint32{},
		pendingReaders:   map[uint32][]int{},
		spans:            spans,
		bColIdx:          bColIdx,
		bValues:          bValues,
		addrBElements:    addrBElements,
	}
	for i := range c.blocks {
		c.blocks[i].next = uint32(i) + 1
	}
	c.blocks[numBlocks-1].next = invalidBlock
	c.freeHead = 0

	c.ReadPorts = make([]*portfabric.Port[CacheReadResp, CacheReadReq], numReaders)
	for i := range c.ReadPorts {
		c.ReadPorts[i] = portfabric.NewPortT[CacheReadResp, CacheReadReq]("llcache.read")
	}
	c.readReq = make([]CacheReadReq, numReaders)
	c.hasReadReq = make([]bool, numReaders)
	return c
}

// allocBlock pulls a block from the free list, or reclaims the
// LRU-oldest inactive row's entire chain onto the free list first.
// Returns ErrBlockAllocationExhausted if nothing can be freed.
func (c *LinkedListCache) allocBlock() (uint32, error) {
	if c.freeHead != invalidBlock {
		b := c.freeHead
		c.freeHead = c.blocks[b].next
		c.blocks[b] = block{}
		return b, nil
	}
	if c.lruHead == -1 {
		return 0, ErrBlockAllocationExhausted
	}
	c.reclaimInactive(c.lruHead)
	if c.freeHead == invalidBlock {
		return 0, ErrBlockAllocationExhausted
	}
	b := c.freeHead
	c.freeHead = c.blocks[b].next
	c.blocks[b] = block{}
	return b, nil
}

func (c *LinkedListCache) freeChain(head uint32) {
	cur := head
	for cur != invalidBlock {
		next := c.blocks[cur].next
		c.blocks[cur] = block{next: c.freeHead}
		c.freeHead = cur
		cur = next
	}
}

func (c *LinkedListCache) reclaimInactive(slot int) {
	e := &c.inactive[slot]
	c.unlinkLRU(slot)
	delete(c.rowKeyToInactive, e.rowKey)
	c.freeChain(e.head)
	c.Evictions++
	e.valid = false
}

func (c *LinkedListCache) unlinkLRU(slot int) {
	e := &c.inactive[slot]
	if e.prev != -1 {
		c.inactive[e.prev].next = e.next
	} else {
		c.lruHead = e.next
	}
	if e.next != -1 {
		c.inactive[e.next].prev = e.prev
	} else {
		c.lruTail = e.prev
	}
}

func (c *LinkedListCache) pushInactive(rowKey memproto.Address, head uint32, numBlocks int) {
	slot := len(c.inactive)
	c.inactive = append(c.inactive, inactiveEntry{
		valid: true, rowKey: rowKey, head: head, numBlocks: numBlocks,
		prev: c.lruTail, next: -1,
	})
	if c.lruTail != -1 {
		c.inactive[c.lruTail].next = slot
	} else {
		c.lruHead = slot
	}
	c.lruTail = slot
	c.rowKeyToInactive[rowKey] = slot
}

// AddRow is the prefetch entry point: hit in active bumps num_uses,
// hit in inactive promotes to active, miss starts a fetch if a
// MatB_Fetcher slot and enough blocks are available.
func (c *LinkedListCache) AddRow(rowKey memproto.Address, begin, end memproto.Address) {
	if r, ok := c.active[rowKey]; ok {
		r.numUses++
		return
	}
	if slot, ok := c.rowKeyToInactive[rowKey]; ok {
		e := c.inactive[slot]
		c.unlinkLRU(slot)
		delete(c.rowKeyToInactive, rowKey)
		c.inactive[slot].valid = false
		c.active[rowKey] = &activeRow{head: e.head, numUses: 1, numBlocks: e.numBlocks}
		return
	}

	rowNumBlocks := int(divCeil(uint32(end-begin), memproto.BlockSizeBytes))
	freeAndInactive := 0
	for i := range c.inactive {
		if c.inactive[i].valid {
			freeAndInactive += c.inactive[i].numBlocks
		}
	}
	freeAndInactive += c.numFreeBlocks()
	if rowNumBlocks > freeAndInactive || c.fetcher.NumFreeSlots() == 0 {
		return
	}
	head, err := c.allocBlock()
	if err != nil {
		return
	}
	c.active[rowKey] = &activeRow{head: head, numUses: 1, numBlocks: 1}
	job, ok := c.fetcher.TryStart(begin, end)
	if !ok {
		return
	}
	c.fetchRow[job] = rowKey
	c.fetchTail[job] = head
	c.Fetches++
}

// HeadFor returns the current block handle for an active row keyed by
// its B-row begin address, or (InvalidIndex, false) if the row is not
// yet resident.
func (c *LinkedListCache) HeadFor(rowKey memproto.Address) (uint32, bool) {
	r, ok := c.active[rowKey]
	if !ok {
		return invalidBlock, false
	}
	return r.head, true
}

// bDataAt reads n real B elements starting at byte address addr
// directly off the backing B CSR arrays.
func (c *LinkedListCache) bDataAt(addr memproto.Address, n int) []Element {
	start := int((addr - c.addrBElements) / memproto.ElementSize)
	if start < 0 || n <= 0 {
		return nil
	}
	end := start + n
	if end > len(c.bColIdx) {
		end = len(c.bColIdx)
	}
	if start >= end {
		return nil
	}
	out := make([]Element, end-start)
	for i := start; i < end; i++ {
		out[i-start] = Element{ColIdx: c.bColIdx[i], Value: c.bValues[i]}
	}
	return out
}

func (c *LinkedListCache) numFreeBlocks() int {
	n := 0
	for b := c.freeHead; b != invalidBlock; b = c.blocks[b].next {
		n++
	}
	return n
}

func divCeil(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// Reset clears every table, block, and counter for a fresh run.
func (c *LinkedListCache) Reset() {
	for i := range c.blocks {
		c.blocks[i] = block{next: uint32(i) + 1}
	}
	c.blocks[len(c.blocks)-1].next = invalidBlock
	c.freeHead = 0
	c.active = map[memproto.Address]*activeRow{}
	c.inactive = c.inactive[:0]
	c.rowKeyToInactive = map[memproto.Address]int{}
	c.lruHead, c.lruTail = -1, -1
	c.pendingReaders = map[uint32][]int{}
	for i := range c.hasReadReq {
		c.readReq[i] = CacheReadReq{}
		c.hasReadReq[i] = false
	}
	c.prefetchCursor = 0
	c.fetchRow = map[int]memproto.Address{}
	c.fetchTail = map[int]uint32{}
	c.Hits, c.Fetches, c.Evictions = 0, 0, 0
}

// SetPrefetchBudget configures how many upcoming B rows AddRow touches
// per cycle (linked_list_cache's prefetched_rows_per_cycle).
func (c *LinkedListCache) SetPrefetchBudget(n int) { c.maxFetchedRowsPerCycle = n }

// Update runs the prefetch walk, fetcher progress, and the
// read-port service loop for one cycle.
func (c *LinkedListCache) Update() {
	c.servePrefetch()
	c.fetcher.Update()
	c.serveReads()
}

// Apply drains the fetcher's memory response, chains any newly
// completed block onto its row, and latches each read port's recv
// cell so serveReads answers a request on the cycle after it
// arrives, never the same one.
func (c *LinkedListCache) Apply() {
	c.fetcher.Apply()
	for {
		rdy, ok := c.fetcher.PopReady()
		if !ok {
			break
		}
		c.chainBlock(rdy)
	}
	for pe, port := range c.ReadPorts {
		if req, ok := port.TakeMsgRecv(); ok {
			c.readReq[pe] = req
			c.hasReadReq[pe] = true
		}
	}
}

func (c *LinkedListCache) chainBlock(rdy BlockReady) {
	rowKey, ok := c.fetchRow[rdy.JobIdx]
	if !ok {
		return
	}
	tail := c.fetchTail[rdy.JobIdx]
	c.blocks[tail].numElements = rdy.NumElements
	c.blocks[tail].last = rdy.Last
	c.blocks[tail].data = c.bDataAt(rdy.Addr, rdy.NumElements)
	c.resolvePending(tail)

	if rdy.Last {
		delete(c.fetchRow, rdy.JobIdx)
		delete(c.fetchTail, rdy.JobIdx)
		return
	}
	next, err := c.allocBlock()
	if err != nil {
		// cache exhaustion mid-fetch: terminate the chain here rather
		// than panic; the row simply ends short.
		c.blocks[tail].last = true
		delete(c.fetchRow, rdy.JobIdx)
		delete(c.fetchTail, rdy.JobIdx)
		return
	}
	c.blocks[tail].next = next
	if r, ok := c.active[rowKey]; ok {
		r.numBlocks++
	}
	c.fetchTail[rdy.JobIdx] = next
}

func (c *LinkedListCache) resolvePending(b uint32) {
	waiters := c.pendingReaders[b]
	if len(waiters) == 0 {
		return
	}
	delete(c.pendingReaders, b)
	for _, pe := range waiters {
		c.respondRead(pe, b)
	}
}

func (c *LinkedListCache) servePrefetch() {
	for i := uint32(0); i < uint32(c.maxFetchedRowsPerCycle) && int(c.prefetchCursor) < len(c.spans); i++ {
		span := c.spans[c.prefetchCursor]
		c.AddRow(span.Begin, span.Begin, span.End)
		c.prefetchCursor++
	}
}

func (c *LinkedListCache) serveReads() {
	for pe := range c.ReadPorts {
		if !c.hasReadReq[pe] {
			continue
		}
		req := c.readReq[pe]
		c.hasReadReq[pe] = false
		if req.RowPtr == invalidBlock {
			continue
		}
		b := req.RowPtr
		if c.blocks[b].numElements == 0 && !c.blocks[b].last {
			c.pendingReaders[b] = append(c.pendingReaders[b], pe)
			continue
		}
		c.respondRead(pe, b)
	}
}

func (c *LinkedListCache) respondRead(pe int, b uint32) {
	port := c.ReadPorts[pe]
	if port.HasMsgSend() {
		c.pendingReaders[b] = append(c.pendingReaders[b], pe)
		return
	}
	c.Hits++
	blk := c.blocks[b]
	next := blk.next
	if blk.last {
		next = invalidBlock
	}
	port.AddMsgSend(CacheReadResp{RowPtr: next, NumElements: blk.numElements, Data: blk.data})
	port.Transfer()
	c.decrementOwningRow(b)
}

func (c *LinkedListCache) decrementOwningRow(consumedBlock uint32) {
	for key, r := range c.active {
		if r.head != consumedBlock {
			continue
		}
		r.numUses--
		r.head = c.blocks[consumedBlock].next
		if r.numUses <= 0 {
			numBlocks := r.numBlocks
			delete(c.active, key)
			if r.head != invalidBlock {
				c.pushInactive(key, r.head, numBlocks)
			}
		}
		return
	}
}
