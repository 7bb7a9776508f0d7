package baseline

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
	"github.com/RuiPMaia/mergeforest-sim/internal/portfabric"
)

var _ = Describe("FiberCache", func() {
	var (
		cache    *FiberCache
		mem      *mainmem.MainMemory
		reqPort  *portfabric.Port[CacheReadReq, CacheReadResp]
		bColIdx  []uint32
		bValues  []float64
	)

	BeforeEach(func() {
		bColIdx = []uint32{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}
		bValues = []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

		cache = NewFiberCache(2*memproto.BlockSizeBytes, 1, 1, 1, 1, nil, memproto.Address(100000),
			bColIdx, bValues, 0)
		mem = mainmem.New(mainmem.Config{LatencyCycles: 2, RequestsPerCycle: 4}, 1)
		portfabric.Connect(cache.MemPorts[0], mem.Port(0))

		reqPort = portfabric.NewPortT[CacheReadReq, CacheReadResp]("test.pe")
		portfabric.Connect(reqPort, cache.ReadPorts[0])
	})

	step := func() {
		cache.Update()
		mem.Update()
		cache.Apply()
	}

	It("fills from the backing B arrays on a miss and serves real data", func() {
		reqPort.AddMsgSend(CacheReadReq{Addr: 0})
		reqPort.Transfer()

		var resp CacheReadResp
		found := false
		for i := 0; i < 20 && !found; i++ {
			step()
			if r, ok := reqPort.TakeMsgRecv(); ok {
				resp = r
				found = true
			}
		}
		Expect(found).To(BeTrue(), "expected a response within 20 cycles")
		Expect(resp.Data).To(HaveLen(memproto.BlockSize))
		Expect(resp.Data[0].ColIdx).To(Equal(bColIdx[0]))
		Expect(resp.Data[0].Value).To(Equal(bValues[0]))
		Expect(cache.MemRequestsIssued).To(Equal(uint64(memproto.TransactionsPerBlock)))
	})

	It("serves a second request to the same block as a hit, no further memory traffic", func() {
		reqPort.AddMsgSend(CacheReadReq{Addr: 0})
		reqPort.Transfer()
		for i := 0; i < 20; i++ {
			step()
			if _, ok := reqPort.TakeMsgRecv(); ok {
				break
			}
		}
		issuedAfterMiss := cache.MemRequestsIssued

		reqPort.AddMsgSend(CacheReadReq{Addr: 4})
		reqPort.Transfer()
		// The first Apply latches the request; the next Update serves it.
		step()
		step()
		resp, ok := reqPort.TakeMsgRecv()

		Expect(ok).To(BeTrue())
		Expect(resp.Data).To(HaveLen(memproto.BlockSize))
		Expect(cache.Hits).To(Equal(uint64(1)), "the fill response doesn't count as a hit, only the later lookup does")
		Expect(cache.MemRequestsIssued).To(Equal(issuedAfterMiss), "a hit must not issue memory traffic")
	})

	It("serves a partial fiber block that was spilled and read back the next cycle", func() {
		writePeer := portfabric.NewPortT[CacheWriteReq, CacheWriteResp]("test.pe.write")
		portfabric.Connect(writePeer, cache.WritePorts[0])
		writePeer.AddMsgSend(CacheWriteReq{Addr: 200000, Data: []Element{{ColIdx: 1, Value: 9}}})
		writePeer.Transfer()

		reqPort.AddMsgSend(CacheReadReq{Addr: 200000})
		reqPort.Transfer()

		// Apply latches both requests out of their recv cells; only the
		// following cycle's Update actually serves them.
		cache.Apply()
		cache.Update()
		resp, ok := reqPort.TakeMsgRecv()
		Expect(ok).To(BeTrue())
		Expect(resp.Data).To(Equal([]Element{{ColIdx: 1, Value: 9}}), "the read must see the just-spilled data, not an emptied evicted line")
	})
})

var _ = Describe("PartialPool", func() {
	It("allocates and frees slots without ever double-issuing an in-use index", func() {
		pool := NewPartialPool(2, 0, memproto.Address(96))
		i0, ok0 := pool.Alloc()
		Expect(ok0).To(BeTrue())
		i1, ok1 := pool.Alloc()
		Expect(ok1).To(BeTrue())
		Expect(i0).NotTo(Equal(i1))

		_, ok := pool.Alloc()
		Expect(ok).To(BeFalse(), "pool has only two slots")

		pool.Free(i0)
		i2, ok2 := pool.Alloc()
		Expect(ok2).To(BeTrue())
		Expect(i2).To(Equal(i0))
	})
})
