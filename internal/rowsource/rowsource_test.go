package rowsource_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
	"github.com/RuiPMaia/mergeforest-sim/internal/portfabric"
	"github.com/RuiPMaia/mergeforest-sim/internal/rowsource"
)

// newSource wires a Source with two A rows (row0 has 2 B inputs, row1
// has 1) against a freshly connected MainMemory, and returns both so
// tests can drive the cycle loop themselves.
func newSource(t *testing.T) (*rowsource.Source, *mainmem.MainMemory) {
	t.Helper()

	records := []rowsource.RowRecord{
		{ARowIdx: 0, CRowPtr: 0, NumBInputs: 2},
		{ARowIdx: 1, CRowPtr: 2, NumBInputs: 1},
	}
	values := []float64{1.5, 2.5, 3.5}
	spans := []matrix.BRowSpan{
		{Begin: 0, End: 10},
		{Begin: 10, End: 20},
		{Begin: 20, End: 30},
	}

	s := rowsource.New(
		records, memproto.Address(0), 8,
		values, memproto.Address(1000), 8,
		spans, memproto.Address(2000), 8,
		"test.source",
	)

	mem := mainmem.New(mainmem.Config{LatencyCycles: 2, RequestsPerCycle: 4}, 1)
	portfabric.Connect(s.Port(), mem.Port(0))

	return s, mem
}

func TestRowSourceStreamsRecordsValuesAndSpansToCompletion(t *testing.T) {
	s, mem := newSource(t)

	const maxCycles = 1000
	cycles := 0
	// Finished() also needs the windows drained, so wait for delivery.
	for (s.Records.NumElements() < 2 || s.Values.NumElements() < 3 || s.Spans.NumElements() < 3) && cycles < maxCycles {
		s.Update()
		mem.Update()
		s.Apply()
		cycles++
	}
	require.Less(t, cycles, maxCycles, "row source never delivered every record, value and span")

	rec0, ok := s.PeekRow()
	require.True(t, ok)
	assert.Equal(t, uint32(0), rec0.ARowIdx)
	assert.Equal(t, uint32(2), rec0.NumBInputs)

	aValue, begin, end, ok := s.BInput(0)
	require.True(t, ok)
	assert.Equal(t, 1.5, aValue)
	assert.Equal(t, memproto.Address(0), begin)
	assert.Equal(t, memproto.Address(10), end)

	aValue, begin, end, ok = s.BInput(1)
	require.True(t, ok)
	assert.Equal(t, 2.5, aValue)
	assert.Equal(t, memproto.Address(10), begin)
	assert.Equal(t, memproto.Address(20), end)

	s.Advance(2)
	assert.Equal(t, uint32(2), s.CurrentBase())
	s.PopRow()

	rec1, ok := s.PeekRow()
	require.True(t, ok)
	assert.Equal(t, uint32(1), rec1.ARowIdx)

	aValue, begin, end, ok = s.BInput(2)
	require.True(t, ok)
	assert.Equal(t, 3.5, aValue)
	assert.Equal(t, memproto.Address(20), begin)
	assert.Equal(t, memproto.Address(30), end)

	s.Advance(1)
	s.PopRow()

	_, ok = s.PeekRow()
	assert.False(t, ok, "no rows remain once both have been popped")
}

func TestRowSourceBInputRejectsIndicesBeforeTheConsumedBase(t *testing.T) {
	s, mem := newSource(t)

	for i := 0; i < 1000 && !s.Finished(); i++ {
		s.Update()
		mem.Update()
		s.Apply()
	}

	s.Advance(1)
	_, _, _, ok := s.BInput(0)
	assert.False(t, ok, "index before the consumed base must be rejected")
}

func TestRowSourceResetRewindsFetchersAndCounters(t *testing.T) {
	s, mem := newSource(t)

	for i := 0; i < 1000 && (s.Records.NumElements() < 2 || s.Values.NumElements() < 3 || s.Spans.NumElements() < 3); i++ {
		s.Update()
		mem.Update()
		s.Apply()
	}
	// Finished() holds only once every window has been drained too.
	s.Advance(3)
	s.PopRow()
	s.PopRow()
	require.True(t, s.Finished())
	firstReads := s.PreprocAReads

	s.Reset()
	mem.Reset()

	assert.Equal(t, uint64(0), s.PreprocAReads)
	assert.Equal(t, uint32(0), s.CurrentBase())
	_, ok := s.PeekRow()
	assert.False(t, ok, "reset must clear the records window")

	for i := 0; i < 1000 && (s.Records.NumElements() < 2 || s.Values.NumElements() < 3 || s.Spans.NumElements() < 3); i++ {
		s.Update()
		mem.Update()
		s.Apply()
	}
	s.Advance(3)
	s.PopRow()
	s.PopRow()
	require.True(t, s.Finished())
	assert.Equal(t, firstReads, s.PreprocAReads, "a reset run must issue the same number of requests as the first")
}
