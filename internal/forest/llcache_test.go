package forest

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
	"github.com/RuiPMaia/mergeforest-sim/internal/portfabric"
)

var _ = Describe("LinkedListCache", func() {
	var (
		cache   *LinkedListCache
		mem     *mainmem.MainMemory
		reqPort *portfabric.Port[CacheReadReq, CacheReadResp]
		bColIdx []uint32
		bValues []float64
	)

	BeforeEach(func() {
		bColIdx = []uint32{0, 1, 2, 3, 4, 5, 6, 7}
		bValues = []float64{10, 11, 12, 13, 14, 15, 16, 17}

		memPort := mainmem.NewRequesterPort("test.llcache.mem")
		cache = NewLinkedListCache(4, 2, 1, 1, nil, memPort, bColIdx, bValues, 0)
		mem = mainmem.New(mainmem.Config{LatencyCycles: 2, RequestsPerCycle: 4}, 1)
		portfabric.Connect(memPort, mem.Port(0))

		reqPort = portfabric.NewPortT[CacheReadReq, CacheReadResp]("test.merge")
		portfabric.Connect(reqPort, cache.ReadPorts[0])
	})

	step := func() {
		cache.Update()
		mem.Update()
		cache.Apply()
	}

	It("fetches a row on AddRow and serves its first block once the fetch lands", func() {
		cache.AddRow(0, 0, memproto.BlockSizeBytes)
		head, ok := cache.HeadFor(0)
		Expect(ok).To(BeTrue())

		reqPort.AddMsgSend(CacheReadReq{RowPtr: head})
		reqPort.Transfer()

		var resp CacheReadResp
		found := false
		for i := 0; i < 50 && !found; i++ {
			step()
			if r, ok := reqPort.TakeMsgRecv(); ok {
				resp = r
				found = true
			}
		}
		Expect(found).To(BeTrue(), "expected a response within 50 cycles")
		Expect(resp.NumElements).To(Equal(memproto.BlockSize))
		Expect(resp.Data[0].ColIdx).To(Equal(bColIdx[0]))
		Expect(resp.Data[0].Value).To(Equal(bValues[0]))
		Expect(resp.RowPtr).To(Equal(invalidBlock), "a single-block row ends the chain")
		Expect(cache.Fetches).To(Equal(uint64(1)))
	})

	It("reuses an already-active row instead of starting a second fetch", func() {
		cache.AddRow(0, 0, memproto.BlockSizeBytes)
		cache.AddRow(0, 0, memproto.BlockSizeBytes)
		Expect(cache.Fetches).To(Equal(uint64(1)), "the second AddRow call must hit the active-row table")
	})

	It("queues a reader that arrives before the fetch completes, then resolves it", func() {
		cache.AddRow(0, 0, memproto.BlockSizeBytes)
		head, _ := cache.HeadFor(0)

		reqPort.AddMsgSend(CacheReadReq{RowPtr: head})
		reqPort.Transfer()
		cache.Update()
		_, ok := reqPort.TakeMsgRecv()
		Expect(ok).To(BeFalse(), "the block has no data yet, the read must be queued, not answered")

		var resp CacheReadResp
		found := false
		for i := 0; i < 50 && !found; i++ {
			mem.Update()
			cache.Apply()
			cache.Update()
			if r, ok := reqPort.TakeMsgRecv(); ok {
				resp = r
				found = true
			}
		}
		Expect(found).To(BeTrue())
		Expect(resp.NumElements).To(Equal(memproto.BlockSize))
	})
})
