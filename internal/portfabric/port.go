// Package portfabric implements the single-slot bidirectional message
// channel that every component-to-component link in the simulator is
// built from.
//
// Unlike akita's sim.Port, which is driven by an event queue and a
// background Tick scheduler, a Port here is driven explicitly by the
// two-phase update/apply clock described by the simulator driver: a
// component calls AddMsgSend during the phase that produces new
// output, then Transfer to hand the message to its peer, and reads
// PeekMsgRecv/ClearMsgRecv during the phase that consumes input. The
// one-cycle latency every link in this simulator exhibits is not a
// property of the Port itself; it falls out of the driver calling a
// sender's output phase before the receiver's next input phase, the
// same way the original accelerator models were driven.
package portfabric

// Port is one endpoint of a point-to-point link. TSend is the message
// type this endpoint transmits; TRecv is the message type its peer
// transmits back. A connected peer has the type parameters inverted:
// Port[TRecv, TSend].
type Port[TSend, TRecv any] struct {
	name string

	msgSend    TSend
	hasSend    bool
	msgRecv    TRecv
	hasRecv    bool

	peer *Port[TRecv, TSend]
}

// NewPort creates a disconnected port. Call Connect to pair it with
// its peer before use.
func NewPort[TSend, TRecv any](name string) *Port[TSend, TRecv] {
	return &Port[TSend, TRecv]{name: name}
}

// NewPortT is NewPort with its type parameters spelled out
// explicitly at the call site, for the common case where Go can't
// infer them from any argument.
func NewPortT[TSend, TRecv any](name string) *Port[TSend, TRecv] {
	return &Port[TSend, TRecv]{name: name}
}

// Name returns the port's diagnostic name.
func (p *Port[TSend, TRecv]) Name() string { return p.name }

// Connect pairs two ports with inverted type parameters so that
// messages sent on one arrive, after Transfer, in the other's recv
// cell. Connect panics if either port is already connected; a port
// has exactly one peer for its entire lifetime.
func Connect[TSend, TRecv any](a *Port[TSend, TRecv], b *Port[TRecv, TSend]) {
	if a.peer != nil || b.peer != nil {
		panic("portfabric: port already connected")
	}
	a.peer = b
	b.peer = a
}

// HasMsgSend reports whether the send cell is occupied.
func (p *Port[TSend, TRecv]) HasMsgSend() bool { return p.hasSend }

// AddMsgSend places msg in the send cell. It fails (returns false)
// if the send cell is already occupied; callers must check
// HasMsgSend or the return value before assuming the message was
// queued.
func (p *Port[TSend, TRecv]) AddMsgSend(msg TSend) bool {
	if p.hasSend {
		return false
	}
	p.msgSend = msg
	p.hasSend = true
	return true
}

// Transfer moves a pending send into the peer's recv cell, provided
// the peer's recv cell is empty. If the peer's recv cell is full,
// Transfer does nothing: the message stays queued in this port's
// send cell and Transfer must be retried on a later call. This is
// the sole mechanism by which back-pressure propagates across a
// link.
func (p *Port[TSend, TRecv]) Transfer() {
	if !p.hasSend || p.peer == nil || p.peer.hasRecv {
		return
	}
	p.peer.msgRecv = p.msgSend
	p.peer.hasRecv = true
	p.hasSend = false
}

// HasMsgRecv reports whether the recv cell holds an undelivered
// message.
func (p *Port[TSend, TRecv]) HasMsgRecv() bool { return p.hasRecv }

// PeekMsgRecv returns the message in the recv cell without removing
// it. The second return value is false if the cell is empty.
func (p *Port[TSend, TRecv]) PeekMsgRecv() (TRecv, bool) {
	return p.msgRecv, p.hasRecv
}

// ClearMsgRecv empties the recv cell. This is the only way to free
// it; doing so allows the peer's next Transfer to succeed.
func (p *Port[TSend, TRecv]) ClearMsgRecv() {
	var zero TRecv
	p.msgRecv = zero
	p.hasRecv = false
}

// TakeMsgRecv is PeekMsgRecv followed by ClearMsgRecv, for the common
// case of consuming the message outright.
func (p *Port[TSend, TRecv]) TakeMsgRecv() (TRecv, bool) {
	msg, ok := p.PeekMsgRecv()
	if ok {
		p.ClearMsgRecv()
	}
	return msg, ok
}
