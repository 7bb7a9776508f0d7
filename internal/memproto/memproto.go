// Package memproto defines the wire messages and sizing constants
// shared by every component that talks to main memory or a fiber
// cache: the physical-address type, memory request/response
// envelopes, and the block/element/transaction sizes the whole
// address layout in internal/matrix is built from.
package memproto

import "math"

// Address is a byte offset into the simulator's flat physical address
// space.
type Address uint64

// InvalidAddress marks an empty or "no request" address field, the
// same role UINT64_MAX plays in the original model.
const InvalidAddress Address = math.MaxUint64

// InvalidIndex marks an empty arena slot or unused id field.
const InvalidIndex = ^uint32(0)

const (
	// ElementSize is the byte size of one (column-index, value) pair:
	// a 4-byte index plus an 8-byte float64 value.
	ElementSize = 12
	// BlockSize is the number of elements in one cache block.
	BlockSize = 8
	// BlockSizeBytes is the byte size of one cache block
	// (BlockSize * ElementSize).
	BlockSizeBytes = BlockSize * ElementSize
	// MemTransactionSize is the byte size of one main-memory
	// transaction.
	MemTransactionSize = 32
	// TransactionsPerBlock is the number of memory transactions
	// needed to fill or write back one cache block
	// (BlockSizeBytes / MemTransactionSize); every cache-line miss
	// costs exactly this many memory transactions.
	TransactionsPerBlock = BlockSizeBytes / MemTransactionSize
)

// MemRequest is a request issued to main memory by any component that
// holds a memory port: an array fetcher, a fiber cache, or (in
// Forest) the merge-tree manager / linked-list cache / MatB fetcher
// directly.
type MemRequest struct {
	Address Address
	ID      uint32
	IsWrite bool
}

// Valid reports whether the request carries a real address.
func (r MemRequest) Valid() bool { return r.Address != InvalidAddress }

// MemResponse is main memory's reply to a MemRequest, matched back to
// its requester by the (Address, ID) pair.
type MemResponse struct {
	Address Address
	ID      uint32
}

// Valid reports whether the response carries a real address.
func (r MemResponse) Valid() bool { return r.Address != InvalidAddress }
