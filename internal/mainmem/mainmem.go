// Package mainmem models the fixed-latency, bandwidth-capped main
// memory shared by every component in both accelerator designs.
//
// This is grounded on two sources: the structural shape (N ports,
// pending/active/response bookkeeping, round-robin port service) is
// carried over from akita's mem/multiportsimplemem.Comp, generalized
// from akita's event-queue delivery to the explicit per-cycle
// round-robin-and-FIFO-drain model of the original
// mergeforest-sim/main_memory.cpp, which this package reproduces
// semantically: writes retire the cycle they are accepted, reads
// retire exactly Latency cycles later, and at most RequestsPerCycle
// requests are accepted from the port array in any one cycle.
package mainmem

import "github.com/RuiPMaia/mergeforest-sim/internal/memproto"
import "github.com/RuiPMaia/mergeforest-sim/internal/portfabric"

// Port is the type of every main-memory-facing port: memory sends
// MemResponse and receives MemRequest.
type Port = portfabric.Port[memproto.MemResponse, memproto.MemRequest]

// RequesterPort is the type every main-memory client (array fetcher,
// cache, write path) uses on its own end of a link to MainMemory.
type RequesterPort = portfabric.Port[memproto.MemRequest, memproto.MemResponse]

// NewRequesterPort creates a disconnected client-side port, ready to
// Connect to a MainMemory port.
func NewRequesterPort(name string) *RequesterPort {
	return portfabric.NewPortT[memproto.MemRequest, memproto.MemResponse](name)
}

// Config holds the [mem] section of the TOML configuration.
type Config struct {
	// LatencyCycles is the fixed round-trip latency of a read.
	LatencyCycles int
	// RequestsPerCycle bounds how many requests (of either kind) are
	// accepted from the port array per update.
	RequestsPerCycle int
}

type pendingRead struct {
	portIdx    int
	resp       memproto.MemResponse
	readyCycle uint64
}

// MainMemory is the single shared memory model every accelerator
// wires its array fetchers, caches, and write paths into.
type MainMemory struct {
	cfg   Config
	ports []*Port

	arbiter int
	pending []pendingRead
	cycle   uint64

	ReadRequests    uint64
	WriteRequests   uint64
	ReadsCompleted  uint64
	WritesCompleted uint64
}

// New creates a main memory model with numPorts ports. Callers obtain
// individual ports with Port and connect them to the rest of the
// system before the simulation starts.
func New(cfg Config, numPorts int) *MainMemory {
	m := &MainMemory{cfg: cfg, arbiter: -1}
	m.ports = make([]*Port, numPorts)
	for i := range m.ports {
		m.ports[i] = portfabric.NewPortT[memproto.MemResponse, memproto.MemRequest]("mainmem")
	}
	return m
}

// Port returns the i'th port.
func (m *MainMemory) Port(i int) *Port { return m.ports[i] }

// NumPorts returns the number of ports this memory was constructed
// with.
func (m *MainMemory) NumPorts() int { return len(m.ports) }

// Reset clears all counters and in-flight state, for a fresh run.
func (m *MainMemory) Reset() {
	m.arbiter = -1
	m.pending = m.pending[:0]
	m.cycle = 0
	m.ReadRequests = 0
	m.WriteRequests = 0
	m.ReadsCompleted = 0
	m.WritesCompleted = 0
}

// Inactive reports whether memory has no outstanding work: every
// issued read and write has completed.
func (m *MainMemory) Inactive() bool {
	return m.ReadRequests == m.ReadsCompleted &&
		m.WriteRequests == m.WritesCompleted
}

// Update runs one cycle: accept up to RequestsPerCycle requests
// round-robin across the port array, then drain any reads whose
// latency has elapsed, in FIFO (== readyCycle) order, as capacity on
// the destination port allows.
func (m *MainMemory) Update() {
	accepted := 0
	n := len(m.ports)
	for i := 0; i < n && accepted < m.cfg.RequestsPerCycle; i++ {
		m.arbiter = (m.arbiter + 1) % n
		port := m.ports[m.arbiter]
		req, ok := port.TakeMsgRecv()
		if !ok {
			continue
		}
		accepted++
		if req.IsWrite {
			m.WriteRequests++
			m.WritesCompleted++
			continue
		}
		m.ReadRequests++
		m.pending = append(m.pending, pendingRead{
			portIdx:    m.arbiter,
			resp:       memproto.MemResponse{Address: req.Address, ID: req.ID},
			readyCycle: m.cycle + uint64(m.cfg.LatencyCycles),
		})
	}

	for len(m.pending) > 0 {
		head := m.pending[0]
		if head.readyCycle > m.cycle {
			break
		}
		port := m.ports[head.portIdx]
		if port.HasMsgSend() {
			break
		}
		port.AddMsgSend(head.resp)
		port.Transfer()
		m.ReadsCompleted++
		m.pending = m.pending[1:]
	}

	m.cycle++
}
