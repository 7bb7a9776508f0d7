package forest

// PartialPool is the fixed-capacity arena of C_Partial_Fiber slots
// shared by every merge tree and dynamic node, the same
// "arenas + indices" pattern as internal/baseline.PartialPool —
// Forest's slots carry a streaming Fiber_Buffer instead of a
// byte-addressed span, since partial data is chased by head_ptr
// through the linked-list cache rather than a flat address range.
type PartialPool struct {
	slots []CPartialFiber
}

// NewPartialPool creates a pool of n slots.
func NewPartialPool(n int) *PartialPool {
	p := &PartialPool{slots: make([]CPartialFiber, n)}
	for i := range p.slots {
		p.slots[i].reset()
	}
	return p
}

// Alloc reserves a free slot.
func (p *PartialPool) Alloc() (uint32, bool) {
	for i := range p.slots {
		if p.slots[i].InUse {
			continue
		}
		p.slots[i].InUse = true
		p.slots[i].HeadPtr = InvalidHeadPtr
		p.slots[i].Finished = false
		p.slots[i].Data.Reset()
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

// NumLive returns the count of currently allocated slots.
func (p *PartialPool) NumLive() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].InUse {
			n++
		}
	}
	return n
}
