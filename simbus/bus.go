// Package simbus provides an in-memory simulation of a fixed-frame,
// full-duplex bus with one master and one slave endpoint.
//
// Both endpoints implement spilink.ChannelAdapter, so a master/slave pair
// can run a complete protocol exchange in a single process with no
// hardware. Fault injection hooks cover the conditions worth testing:
// per-direction frame corruption, transfer delays, transport faults, and a
// slave that never arms.
package simbus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-spilink/spilink"
)

// Direction identifies which half of a full-duplex exchange a frame
// travels on.
type Direction int

const (
	// MasterToSlave is the frame clocked out by the master.
	MasterToSlave Direction = iota
	// SlaveToMaster is the frame clocked out by the slave.
	SlaveToMaster
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	switch d {
	case MasterToSlave:
		return "master-to-slave"
	case SlaveToMaster:
		return "slave-to-master"
	default:
		return "unknown"
	}
}

// CorruptFunc mutates a frame in flight. It is called once per direction
// per exchange with a private copy of the frame; mutating it corrupts what
// the receiving side observes without touching the sender's buffer.
type CorruptFunc func(dir Direction, frame []byte)

// transfer is one armed buffer pair on an endpoint.
type transfer struct {
	handle  spilink.TransferHandle
	tx      []byte
	rx      []byte
	aborted bool
}

// Endpoint is one end of the simulated bus. It satisfies
// spilink.ChannelAdapter.
type Endpoint struct {
	bus         *Bus
	name        string
	armed       *transfer
	dropNext    int
	completions chan spilink.Completion
}

// Bus is a simulated point-to-point bus. An exchange runs as soon as both
// endpoints have armed a transfer, mirroring the master-clocks-when-ready
// behavior of the real channel: a master arming against an unarmed slave
// simply waits (and eventually times out on its side).
type Bus struct {
	mu        sync.Mutex
	handleGen atomic.Uint64

	corrupt CorruptFunc
	delay   time.Duration
	nextErr error

	master *Endpoint
	slave  *Endpoint
}

// Option configures a Bus.
type Option func(*Bus)

// WithCorruption installs a frame corruption hook.
func WithCorruption(f CorruptFunc) Option {
	return func(b *Bus) { b.corrupt = f }
}

// WithTransferDelay delays completion delivery by d after each exchange,
// simulating transfer time on a slow clock.
func WithTransferDelay(d time.Duration) Option {
	return func(b *Bus) { b.delay = d }
}

// New creates a simulated bus with a master and a slave endpoint.
func New(opts ...Option) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		opt(b)
	}

	b.master = &Endpoint{bus: b, name: "master", completions: make(chan spilink.Completion, 8)}
	b.slave = &Endpoint{bus: b, name: "slave", completions: make(chan spilink.Completion, 8)}

	return b
}

// Master returns the master-side channel adapter.
func (b *Bus) Master() *Endpoint { return b.master }

// Slave returns the slave-side channel adapter.
func (b *Bus) Slave() *Endpoint { return b.slave }

// SetCorruption replaces the frame corruption hook at runtime. Pass nil to
// restore clean transfers.
func (b *Bus) SetCorruption(f CorruptFunc) {
	b.mu.Lock()
	b.corrupt = f
	b.mu.Unlock()
}

// FailNextTransfer makes the next exchange complete with err on both
// endpoints instead of exchanging data, simulating a transport fault such
// as a DMA overrun.
func (b *Bus) FailNextTransfer(err error) {
	b.mu.Lock()
	b.nextErr = err
	b.mu.Unlock()
}

// DropCompletions makes the bus swallow this endpoint's next n completion
// events, simulating a lost interrupt. The exchange itself still runs; the
// peer is unaffected.
func (ep *Endpoint) DropCompletions(n int) {
	ep.bus.mu.Lock()
	ep.dropNext += n
	ep.bus.mu.Unlock()
}

// Start arms a buffer pair on this endpoint. The exchange runs once the
// peer endpoint is armed too.
func (ep *Endpoint) Start(tx, rx []byte) (spilink.TransferHandle, error) {
	if len(tx) == 0 || len(tx) != len(rx) {
		return 0, errors.New("simbus: tx and rx must be equal-length and non-empty")
	}

	b := ep.bus

	b.mu.Lock()
	defer b.mu.Unlock()

	if ep.armed != nil {
		return 0, spilink.ErrTransferActive
	}

	t := &transfer{
		handle: spilink.TransferHandle(b.handleGen.Add(1)),
		tx:     tx,
		rx:     rx,
	}
	ep.armed = t

	if ep.peer().armed != nil {
		b.exchangeLocked()
	}

	return t.handle, nil
}

// Completions returns the endpoint's completion channel.
func (ep *Endpoint) Completions() <-chan spilink.Completion {
	return ep.completions
}

// Abort cancels the armed transfer identified by handle. A completion
// already scheduled for delivery is suppressed.
func (ep *Endpoint) Abort(handle spilink.TransferHandle) {
	b := ep.bus

	b.mu.Lock()
	defer b.mu.Unlock()

	if ep.armed != nil && ep.armed.handle == handle {
		ep.armed.aborted = true
		ep.armed = nil
	}
}

func (ep *Endpoint) peer() *Endpoint {
	if ep == ep.bus.master {
		return ep.bus.slave
	}

	return ep.bus.master
}

// exchangeLocked runs one full-duplex exchange between the two armed
// transfers. Called with b.mu held.
func (b *Bus) exchangeLocked() {
	mt := b.master.armed
	st := b.slave.armed

	// Snapshot the wires so corruption never touches the senders' buffers.
	m2s := append([]byte(nil), mt.tx...)
	s2m := append([]byte(nil), st.tx...)

	if b.corrupt != nil {
		b.corrupt(MasterToSlave, m2s)
		b.corrupt(SlaveToMaster, s2m)
	}

	err := b.nextErr
	b.nextErr = nil

	delay := b.delay

	go b.deliver(b.master, mt, s2m, err, delay)
	go b.deliver(b.slave, st, m2s, err, delay)
}

// deliver copies the received wire into the transfer's rx buffer and fires
// the completion event, unless the transfer was aborted in the meantime.
func (b *Bus) deliver(ep *Endpoint, t *transfer, wire []byte, err error, delay time.Duration) {
	if delay > 0 {
		time.Sleep(delay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if t.aborted {
		return
	}

	if ep.armed == t {
		ep.armed = nil
	}

	// On a transport fault the exchanged bytes are undefined; leave rx alone.
	if err == nil {
		copy(t.rx, wire)
	}

	if ep.dropNext > 0 {
		ep.dropNext--

		return
	}

	select {
	case ep.completions <- spilink.Completion{Handle: t.handle, Err: err}:
	default:
		// Receiver stopped draining; drop rather than deadlock the bus.
	}
}
