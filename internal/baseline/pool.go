package baseline

import "github.com/RuiPMaia/mergeforest-sim/internal/memproto"

// PartialPool is the fixed-size arena of C_Partial_Fiber slots, the
// "arenas + indices" pattern design note §9 calls for in place of
// shared mutable ownership between the PE manager and the cache.
type PartialPool struct {
	slots    []CPartialFiber
	addrBase memproto.Address
	slotSize memproto.Address
}

// NewPartialPool creates a pool of n slots, each slotSize bytes,
// starting at addrBase (C_partials_base from the physical address
// layout).
func NewPartialPool(n int, addrBase, slotSize memproto.Address) *PartialPool {
	p := &PartialPool{slots: make([]CPartialFiber, n), addrBase: addrBase, slotSize: slotSize}
	for i := range p.slots {
		p.slots[i].reset()
	}
	return p
}

// Alloc reserves a free slot and returns its index, or ok=false if
// the pool is exhausted.
func (p *PartialPool) Alloc() (uint32, bool) {
	for i := range p.slots {
		if p.slots[i].InUse {
			continue
		}
		addr := p.addrBase + memproto.Address(i)*p.slotSize
		p.slots[i].InUse = true
		p.slots[i].Begin = addr
		p.slots[i].End = addr
		p.slots[i].Finished = false
		return uint32(i), true
	}
	return 0, false
}

// Free releases a slot back to the pool.
func (p *PartialPool) Free(i uint32) { p.slots[i].reset() }

// Get returns a pointer to slot i's fiber state.
func (p *PartialPool) Get(i uint32) *CPartialFiber { return &p.slots[i] }

// Len returns the pool's fixed capacity.
func (p *PartialPool) Len() int { return len(p.slots) }

// NumLive returns the count of currently allocated slots, the
// num_fibers invariant compares against count(!empty).
func (p *PartialPool) NumLive() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].InUse {
			n++
		}
	}
	return n
}
