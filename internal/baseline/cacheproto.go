package baseline

import "github.com/RuiPMaia/mergeforest-sim/internal/memproto"

// CacheReadReq asks the fiber cache for the block containing Addr.
// Addr may fall in the B_elements region or the C_partials region —
// the cache does not distinguish them on the read path.
type CacheReadReq struct {
	Addr memproto.Address
}

// CacheReadResp delivers the elements of the block that contained
// Addr, clipped to [Addr, End).
type CacheReadResp struct {
	Addr memproto.Address
	End  memproto.Address
	Data []Element
}

// CacheWriteReq spills a chunk of a partial fiber's data to the
// cache. Last marks the fiber's final chunk.
type CacheWriteReq struct {
	Addr memproto.Address
	Data []Element
	Last bool
}

// CacheWriteResp acknowledges a CacheWriteReq.
type CacheWriteResp struct {
	Addr memproto.Address
}

// PrefetchHint tells the cache how many upcoming B rows, in
// preprocessed-row order, to prefetch next.
type PrefetchHint struct {
	Count uint32
}
