// Package spiserial adapts a serial port to the link's channel adapter
// interface, for bench setups where the frame engine sits behind a
// USB-serial bridge instead of a memory-mapped controller.
//
// The serial wire is half-duplex from the host's point of view: the bridge
// clocks the full-duplex exchange on the far side and streams the received
// frame back after accepting the transmitted one. Framing above the byte
// stream is the caller's concern; this package moves exactly len(tx) bytes
// out and len(rx) bytes in per transfer.
package spiserial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/arloliu/go-spilink/logger"
	"github.com/arloliu/go-spilink/spilink"
)

// DefaultBaudRate suits common USB-serial bridges.
const DefaultBaudRate = 115200

// DefaultReadTimeout bounds each Read call so an abort is observed promptly.
const DefaultReadTimeout = 100 * time.Millisecond

// ErrClosed indicates the adapter's port has been closed.
var ErrClosed = errors.New("spiserial: adapter closed")

// Adapter drives one serial port as a spilink.ChannelAdapter.
type Adapter struct {
	port        serial.Port
	logger      logger.Logger
	readTimeout time.Duration

	mu      sync.Mutex
	active  spilink.TransferHandle
	aborted map[spilink.TransferHandle]bool

	handleGen   atomic.Uint64
	closed      atomic.Bool
	completions chan spilink.Completion
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithReadTimeout sets the per-Read bound used while draining the port.
func WithReadTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.readTimeout = d }
}

// WithLogger sets the adapter's logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// Open opens the named serial port at the given baud rate and wraps it as a
// channel adapter.
func Open(name string, baudRate int, opts ...Option) (*Adapter, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}

	port, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("spiserial: open %s: %w", name, err)
	}

	return NewAdapter(port, opts...), nil
}

// NewAdapter wraps an already-open serial port.
func NewAdapter(port serial.Port, opts ...Option) *Adapter {
	a := &Adapter{
		port:        port,
		logger:      logger.GetLogger(),
		readTimeout: DefaultReadTimeout,
		aborted:     make(map[spilink.TransferHandle]bool),
		completions: make(chan spilink.Completion, 8),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Start begins one transfer: tx is written to the port, then len(rx) bytes
// are read back. The exchange runs on a background goroutine; completion is
// delivered on Completions.
func (a *Adapter) Start(tx, rx []byte) (spilink.TransferHandle, error) {
	if a.closed.Load() {
		return 0, ErrClosed
	}

	if len(tx) == 0 || len(tx) != len(rx) {
		return 0, errors.New("spiserial: tx and rx must be equal-length and non-empty")
	}

	a.mu.Lock()
	if a.active != 0 {
		a.mu.Unlock()

		return 0, spilink.ErrTransferActive
	}

	handle := spilink.TransferHandle(a.handleGen.Add(1))
	a.active = handle
	a.mu.Unlock()

	go a.run(handle, tx, rx)

	return handle, nil
}

// Completions returns the adapter's completion channel.
func (a *Adapter) Completions() <-chan spilink.Completion {
	return a.completions
}

// Abort cancels the transfer identified by handle. The background exchange
// notices on its next read deadline; its completion is suppressed.
func (a *Adapter) Abort(handle spilink.TransferHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == handle {
		a.aborted[handle] = true
		a.active = 0
	}
}

// Close aborts any in-flight transfer and closes the port.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}

	a.mu.Lock()
	if a.active != 0 {
		a.aborted[a.active] = true
		a.active = 0
	}
	a.mu.Unlock()

	return a.port.Close()
}

// run performs the blocking write/read exchange for one transfer.
func (a *Adapter) run(handle spilink.TransferHandle, tx, rx []byte) {
	err := a.exchange(handle, tx, rx)

	a.mu.Lock()
	if a.aborted[handle] {
		delete(a.aborted, handle)
		a.mu.Unlock()

		return
	}

	if a.active == handle {
		a.active = 0
	}
	a.mu.Unlock()

	select {
	case a.completions <- spilink.Completion{Handle: handle, Err: err}:
	default:
		a.logger.Warn("spiserial: completion dropped, receiver not draining", "handle", handle)
	}
}

func (a *Adapter) exchange(handle spilink.TransferHandle, tx, rx []byte) error {
	if _, err := a.port.Write(tx); err != nil {
		return fmt.Errorf("spiserial: write frame: %w", err)
	}

	if err := a.port.SetReadTimeout(a.readTimeout); err != nil {
		return fmt.Errorf("spiserial: set read timeout: %w", err)
	}

	for off := 0; off < len(rx); {
		n, err := a.port.Read(rx[off:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("spiserial: port closed mid-frame at byte %d", off)
			}

			return fmt.Errorf("spiserial: read frame: %w", err)
		}

		if n == 0 {
			// Read deadline expired; bail out if the transfer was aborted.
			if a.isAborted(handle) {
				return nil
			}

			continue
		}

		off += n
	}

	return nil
}

func (a *Adapter) isAborted(handle spilink.TransferHandle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.aborted[handle]
}
