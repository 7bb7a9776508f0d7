// Package rowsource streams the preprocessed A arrays out of main
// memory for whichever scheduler (Baseline's PE manager, Forest's
// merge-tree manager) is currently decomposing an A row, multiplexing
// three Array_Fetcher instances — row records, A values, B-row spans
// — onto a single requester port.
//
// Grounded on the "three arrays" read pattern of PE_manager.cpp /
// merge_tree_manager.cpp, generalized from the Array_Fetcher template
// (array_fetcher.hpp) the way internal/arrayfetcher already is.
package rowsource

import (
	"github.com/RuiPMaia/mergeforest-sim/internal/arrayfetcher"
	"github.com/RuiPMaia/mergeforest-sim/internal/mainmem"
	"github.com/RuiPMaia/mergeforest-sim/internal/matrix"
	"github.com/RuiPMaia/mergeforest-sim/internal/memproto"
)

// RowRecord is one A-row's scheduling metadata: its original index,
// its destination offset in C, and how many B inputs it has. Combines
// preproc_A_row_idx, preproc_C_row_ptr and the per-row width derived
// from preproc_A_row_ptr into one fetchable record.
type RowRecord struct {
	ARowIdx    uint32
	CRowPtr    uint32
	NumBInputs uint32
}

type addrRange struct{ begin, end memproto.Address }

func (r addrRange) contains(a memproto.Address) bool { return a >= r.begin && a < r.end }

// Source owns the three array fetchers and the one memory-facing port
// they share.
type Source struct {
	Records *arrayfetcher.Fetcher[RowRecord]
	Values  *arrayfetcher.Fetcher[float64]
	Spans   *arrayfetcher.Fetcher[matrix.BRowSpan]

	port *mainmem.RequesterPort
	rr   int

	recordsRange addrRange
	valuesRange  addrRange
	spansRange   addrRange

	consumedBInputs uint32

	PreprocAReads uint64
}

// New builds a row source. records/values/spans are the flattened
// preprocessed A arrays; the three addr* values and buffer sizes are
// the corresponding physical-address-layout base addresses and
// configured buffer sizes ([PE_manager] / [merge_tree_manager]
// A_row_ptr_buffer_size, A_values_buffer_size,
// B_row_ptr_end_buffer_size).
func New(
	records []RowRecord, addrRecords memproto.Address, recordsBuf int,
	values []float64, addrValues memproto.Address, valuesBuf int,
	spans []matrix.BRowSpan, addrSpans memproto.Address, spansBuf int,
	portName string,
) *Source {
	s := &Source{
		Records: arrayfetcher.New(records, 12, addrRecords, recordsBuf),
		Values:  arrayfetcher.New(values, 8, addrValues, valuesBuf),
		Spans:   arrayfetcher.New(spans, 8, addrSpans, spansBuf),
		port:    mainmem.NewRequesterPort(portName),
	}
	s.recordsRange = addrRange{addrRecords, addrRecords + memproto.Address(len(records))*12}
	s.valuesRange = addrRange{addrValues, addrValues + memproto.Address(len(values))*8}
	s.spansRange = addrRange{addrSpans, addrSpans + memproto.Address(len(spans))*8}
	return s
}

// Port returns the requester-side port to connect to a MainMemory
// port.
func (s *Source) Port() *mainmem.RequesterPort { return s.port }

// Reset rewinds all three fetchers and counters for a fresh run.
func (s *Source) Reset() {
	s.Records.Reset(s.recordsRange.begin)
	s.Values.Reset(s.valuesRange.begin)
	s.Spans.Reset(s.spansRange.begin)
	s.rr = 0
	s.consumedBInputs = 0
	s.PreprocAReads = 0
}

// Update issues at most one fetch request this cycle, round-robin
// across the three fetchers, if the port's send slot is free.
func (s *Source) Update() {
	if s.port.HasMsgSend() {
		return
	}
	for try := 0; try < 3; try++ {
		idx := (s.rr + try) % 3
		var addr memproto.Address
		var ok bool
		switch idx {
		case 0:
			addr, ok = s.Records.GetFetchAddress()
		case 1:
			addr, ok = s.Values.GetFetchAddress()
		case 2:
			addr, ok = s.Spans.GetFetchAddress()
		}
		if ok {
			s.port.AddMsgSend(memproto.MemRequest{Address: addr})
			s.port.Transfer()
			s.PreprocAReads++
			s.rr = (idx + 1) % 3
			return
		}
	}
}

// Apply routes a memory response to whichever of the three fetchers
// owns its address range.
func (s *Source) Apply() {
	resp, ok := s.port.TakeMsgRecv()
	if !ok {
		return
	}
	switch {
	case s.recordsRange.contains(resp.Address):
		s.Records.ReceiveData(resp.Address)
	case s.valuesRange.contains(resp.Address):
		s.Values.ReceiveData(resp.Address)
	case s.spansRange.contains(resp.Address):
		s.Spans.ReceiveData(resp.Address)
	}
}

// PeekRow returns the row record at the front of the window, without
// consuming it. The caller pops it explicitly via PopRow once that
// row's entire task tree has been walked to completion.
func (s *Source) PeekRow() (RowRecord, bool) {
	if s.Records.NumElements() == 0 {
		return RowRecord{}, false
	}
	return s.Records.Front(), true
}

// PopRow discards the current row record, advancing to the next row.
func (s *Source) PopRow() { s.Records.Pop() }

// BInput implements baseline.RowInputSource / the equivalent Forest
// interface: idx is the absolute flat preprocessed-array index (valid
// only because exactly one row's B inputs are ever being consumed at
// a time, so idx always falls within, or just ahead of, the current
// window).
func (s *Source) BInput(idx uint32) (aValue float64, begin, end memproto.Address, ok bool) {
	if idx < s.consumedBInputs {
		return 0, 0, 0, false
	}
	rel := int(idx - s.consumedBInputs)
	if rel >= s.Values.NumElements() || rel >= s.Spans.NumElements() {
		return 0, 0, 0, false
	}
	span := s.Spans.At(rel)
	return s.Values.At(rel), span.Begin, span.End, true
}

// Advance pops n B-input entries from the front of both the values
// and spans windows.
func (s *Source) Advance(n uint32) {
	for i := uint32(0); i < n; i++ {
		s.Values.Pop()
		s.Spans.Pop()
	}
	s.consumedBInputs += n
}

// CurrentBase returns the absolute flat B-input index at the front of
// the values/spans windows — the index at which a newly activated row
// begins, since rows are always consumed strictly in order.
func (s *Source) CurrentBase() uint32 { return s.consumedBInputs }

// Finished reports whether every fetcher has delivered and drained
// its entire backing array.
func (s *Source) Finished() bool {
	return s.Records.Finished() && s.Values.Finished() && s.Spans.Finished()
}
