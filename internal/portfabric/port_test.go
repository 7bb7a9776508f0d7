package portfabric_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuiPMaia/mergeforest-sim/internal/portfabric"
)

func TestConnectAndTransferDeliversAfterOneCycle(t *testing.T) {
	a := portfabric.NewPortT[int, string]("a")
	b := portfabric.NewPortT[string, int]("b")
	portfabric.Connect(a, b)

	ok := a.AddMsgSend(7)
	require.True(t, ok)
	assert.True(t, a.HasMsgSend())
	assert.False(t, b.HasMsgRecv())

	a.Transfer()
	assert.False(t, a.HasMsgSend())
	require.True(t, b.HasMsgRecv())

	msg, ok := b.PeekMsgRecv()
	require.True(t, ok)
	assert.Equal(t, 7, msg)
}

func TestAddMsgSendFailsWhenCellOccupied(t *testing.T) {
	p := portfabric.NewPort[int, int]("p")
	require.True(t, p.AddMsgSend(1))
	assert.False(t, p.AddMsgSend(2))
}

func TestTransferBacksPressureWhenRecvCellFull(t *testing.T) {
	a := portfabric.NewPortT[int, int]("a")
	b := portfabric.NewPortT[int, int]("b")
	portfabric.Connect(a, b)

	a.AddMsgSend(1)
	a.Transfer()
	require.True(t, b.HasMsgRecv())

	// a new send is queued, but Transfer can't deliver it yet.
	a.AddMsgSend(2)
	a.Transfer()
	assert.True(t, a.HasMsgSend(), "send should stay queued while peer recv cell is full")

	b.ClearMsgRecv()
	a.Transfer()
	assert.False(t, a.HasMsgSend())
	msg, ok := b.TakeMsgRecv()
	require.True(t, ok)
	assert.Equal(t, 2, msg)
	assert.False(t, b.HasMsgRecv())
}

func TestConnectPanicsOnDoubleConnect(t *testing.T) {
	a := portfabric.NewPortT[int, int]("a")
	b := portfabric.NewPortT[int, int]("b")
	c := portfabric.NewPortT[int, int]("c")
	portfabric.Connect(a, b)
	assert.Panics(t, func() { portfabric.Connect(a, c) })
}

func TestTakeMsgRecvOnEmptyCell(t *testing.T) {
	p := portfabric.NewPort[int, int]("p")
	_, ok := p.TakeMsgRecv()
	assert.False(t, ok)
}
