package arrayfetcher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuiPMaia/mergeforest-sim/internal/arrayfetcher"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
)

func TestFetcherCommitsInAddressOrderRegardlessOfReplyOrder(t *testing.T) {
	// 16 elements * 4 bytes = 64 bytes = two 32-byte transactions.
	data := make([]uint32, 16)
	for i := range data {
		data[i] = uint32(i+1) * 10
	}
	f := arrayfetcher.New(data, 4, 0, 16)

	addr0, ok := f.GetFetchAddress()
	require.True(t, ok)
	addr1, ok := f.GetFetchAddress()
	require.True(t, ok)
	assert.NotEqual(t, addr0, addr1)

	// reply to the second request first: nothing should commit yet,
	// since the first request is still outstanding at the front of the
	// FIFO.
	f.ReceiveData(addr1)
	assert.Equal(t, 0, f.NumElements())

	// completing the first request now lets both contiguous requests
	// commit at once.
	f.ReceiveData(addr0)
	assert.Equal(t, 16, f.NumElements())
	assert.Equal(t, uint32(10), f.Front())
	assert.Equal(t, uint32(90), f.At(8))
}

func TestFetcherFinishedLifecycle(t *testing.T) {
	data := []uint32{1, 2}
	f := arrayfetcher.New(data, 4, 0, 16)
	assert.False(t, f.Finished())

	addr, ok := f.GetFetchAddress()
	require.True(t, ok)
	_, ok = f.GetFetchAddress()
	assert.False(t, ok, "stream should be exhausted after one transaction covers both elements")

	f.ReceiveData(addr)
	assert.Equal(t, 2, f.NumElements())
	assert.False(t, f.Finished(), "not finished while the window still holds unconsumed elements")

	f.Pop()
	f.Pop()
	assert.True(t, f.Finished())
}

func TestFetcherGetFetchAddressStopsAtBufferCapacity(t *testing.T) {
	data := make([]uint32, 64)
	for i := range data {
		data[i] = uint32(i)
	}
	f := arrayfetcher.New(data, 4, 0, 8) // window room for exactly one transaction (8 elems/tx)
	_, ok := f.GetFetchAddress()
	require.True(t, ok)
	_, ok = f.GetFetchAddress()
	assert.False(t, ok, "second request should be refused until the first is committed")
}

func TestFetcherCommitsStraddlingElementOnlyOnceWhole(t *testing.T) {
	// ElementSize=12 does not divide MemTransactionSize=32 (the
	// RowRecord case), so several elements straddle a transaction
	// boundary and must not be committed until the transaction
	// carrying their last byte has arrived.
	data := make([]uint32, 8)
	for i := range data {
		data[i] = uint32(i)
	}
	f := arrayfetcher.New(data, memproto.ElementSize, 0, 64)

	var addrs []memproto.Address
	for {
		addr, ok := f.GetFetchAddress()
		if !ok {
			break
		}
		addrs = append(addrs, addr)
		f.ReceiveData(addr)
	}
	require.Len(t, addrs, 3, "96 bytes / 32-byte transactions")

	require.Equal(t, 8, f.NumElements(), "no element may be dropped across straddled transaction boundaries")
	for i := 0; i < 8; i++ {
		assert.Equal(t, uint32(i), f.At(i))
	}
}

func TestFetcherResetRebindsBaseAddress(t *testing.T) {
	data := []uint32{1, 2}
	f := arrayfetcher.New(data, 4, 0, 16)
	addr, ok := f.GetFetchAddress()
	require.True(t, ok)
	f.ReceiveData(addr)
	require.Equal(t, 2, f.NumElements())

	f.Reset(memproto.Address(1000))
	assert.Equal(t, 0, f.NumElements())
	assert.False(t, f.Finished())
	addr2, ok := f.GetFetchAddress()
	require.True(t, ok)
	assert.Equal(t, memproto.Address(1000), addr2)
}
