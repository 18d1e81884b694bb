package spilink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-spilink/internal/pool"
	"github.com/arloliu/go-spilink/internal/queue"
	"github.com/arloliu/go-spilink/internal/task"
	"github.com/arloliu/go-spilink/logger"
)

// SlaveState represents the slave state machine.
type SlaveState uint32

const (
	// SlaveIdle indicates no transfer is armed; the slave is waiting for the
	// next outbound payload.
	SlaveIdle SlaveState = iota
	// SlaveArmed indicates the outgoing frame is loaded into the adapter and
	// the slave is waiting for the master to drive the clock. The slave
	// cannot start the transfer itself.
	SlaveArmed
	// SlaveReceiving indicates the transfer ran and its completion event is
	// being processed.
	SlaveReceiving
	// SlaveCompleted indicates the received frame was decoded and its
	// outcome is being reported upstream.
	SlaveCompleted
)

// String returns the string representation of the slave state.
func (s SlaveState) String() string {
	switch s {
	case SlaveIdle:
		return "idle"
	case SlaveArmed:
		return "armed"
	case SlaveReceiving:
		return "receiving"
	case SlaveCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// PayloadProvider supplies the slave's next outbound payload. It is called
// from the protocol loop each time the slave re-arms and may block until a
// payload is available. The returned slice must be exactly BufferSize bytes.
type PayloadProvider func() []byte

// FrameHandler is invoked from the protocol loop for each completed
// exchange. payload is the master's decoded payload and is non-nil only
// when outcome is OutcomeCRCValid. The handler must not block.
type FrameHandler func(payload []byte, outcome Outcome)

// Slave is the reactive side of the link. It arms a transmit/receive buffer
// pair ahead of each exchange and reports frame outcomes upstream. Retry is
// always a master-side decision; the slave never retries autonomously.
type Slave struct {
	pctx    context.Context
	cfg     *LinkConfig
	adapter ChannelAdapter
	codec   *Codec
	logger  logger.Logger

	taskMgr *task.Manager
	running atomic.Bool
	state   atomic.Uint32

	provider PayloadProvider
	handler  FrameHandler

	// carry holds a payload whose arming timed out, so it is re-armed on the
	// next iteration instead of being dropped.
	carry []byte

	queueMu sync.Mutex
	pending queue.Queue[[]byte]
	queued  chan struct{}

	metrics LinkMetrics
}

// NewSlave creates the slave end of a link on the given channel adapter.
//
// Configure the payload supply with SetPayloadProvider or QueuePayload, and
// the outcome callback with OnFrame, before calling Open.
func NewSlave(ctx context.Context, adapter ChannelAdapter, cfg *LinkConfig) (*Slave, error) {
	if adapter == nil {
		return nil, errors.New("spilink: channel adapter is nil")
	}
	if cfg == nil {
		return nil, errors.New("spilink: link config is nil")
	}

	s := &Slave{
		pctx:    ctx,
		cfg:     cfg,
		adapter: adapter,
		codec:   NewCodec(cfg.engine),
		logger:  cfg.logger,
		taskMgr: task.NewManager(ctx, cfg.logger),
		pending: queue.NewSliceQueue[[]byte](cfg.sessionQueueSize),
		queued:  make(chan struct{}, 1),
	}

	return s, nil
}

// SetPayloadProvider sets the payload supplier callback. When set, it takes
// precedence over the internal queue. Must be called before Open.
func (s *Slave) SetPayloadProvider(p PayloadProvider) {
	s.provider = p
}

// OnFrame sets the outcome callback. Must be called before Open.
func (s *Slave) OnFrame(h FrameHandler) {
	s.handler = h
}

// QueuePayload buffers a payload for a future exchange. Payloads are armed
// in FIFO order. The payload is copied; the caller keeps ownership of p.
func (s *Slave) QueuePayload(p []byte) error {
	if len(p) != BufferSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrPayloadSize, len(p), BufferSize)
	}

	buf := make([]byte, BufferSize)
	copy(buf, p)

	s.queueMu.Lock()
	s.pending.Enqueue(buf)
	s.queueMu.Unlock()

	// Wake the protocol loop if it is waiting for a payload.
	select {
	case s.queued <- struct{}{}:
	default:
	}

	return nil
}

// PendingPayloads returns the number of payloads buffered for future
// exchanges.
func (s *Slave) PendingPayloads() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	return s.pending.Length()
}

// Open starts the protocol loop. The slave begins arming exchanges as soon
// as a payload is available.
func (s *Slave) Open() error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	if err := s.taskMgr.Start("slaveProtocolLoop", s.loopIteration); err != nil {
		s.running.Store(false)

		return err
	}

	return nil
}

// Close stops the protocol loop and waits for it to terminate. An armed
// transfer is aborted.
func (s *Slave) Close() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.taskMgr.Stop()

	done := make(chan struct{})
	go func() {
		s.taskMgr.Wait()
		close(done)
	}()

	closeTimer := pool.GetTimer(s.cfg.closeTimeout)
	defer pool.PutTimer(closeTimer)

	select {
	case <-done:
		return nil
	case <-closeTimer.C:
		s.logger.Error("spilink: slave close timeout", "timeout", s.cfg.closeTimeout)

		return errors.New("spilink: close timeout")
	}
}

// State returns the current slave state.
func (s *Slave) State() SlaveState {
	return SlaveState(s.state.Load())
}

// GetMetrics returns the metrics associated with this end of the link.
func (s *Slave) GetMetrics() *LinkMetrics {
	return &s.metrics
}

// GetLogger returns the logger associated with this end of the link.
func (s *Slave) GetLogger() logger.Logger {
	return s.logger
}

// --- Protocol loop ---

// loopIteration performs one arm/exchange cycle:
// Idle -> Armed -> Receiving -> Completed -> Idle.
func (s *Slave) loopIteration() bool {
	ctx := s.taskMgr.Context()

	payload, ok := s.nextPayload(ctx)
	if !ok {
		return false
	}

	frame, err := s.codec.Encode(payload)
	if err != nil {
		// Provider returned a wrong-sized payload; drop it and keep running.
		s.logger.Error("spilink: outbound payload rejected", "error", err)

		return true
	}

	rx := make([]byte, FrameSize)

	handle, err := s.adapter.Start(frame.Bytes(), rx)
	if err != nil {
		s.logger.Error("spilink: arming failed", "error", err)
		s.metrics.incFaultCount()
		s.carry = payload

		return true
	}

	s.metrics.incFrameSendCount()
	s.setState(SlaveArmed)

	armTimer := pool.GetTimer(s.cfg.armTimeout)
	defer pool.PutTimer(armTimer)

	for {
		select {
		case <-ctx.Done():
			s.adapter.Abort(handle)
			s.setState(SlaveIdle)

			return false

		case <-armTimer.C:
			// The master never followed through with a clock sequence.
			s.adapter.Abort(handle)
			s.metrics.incTimeoutCount()
			s.logger.Warn("spilink: arm timeout, master never clocked",
				"timeout", s.cfg.armTimeout)
			s.report(nil, OutcomeTimeout)
			s.setState(SlaveIdle)

			// Keep the unsent payload for the next arming cycle.
			s.carry = payload

			return true

		case comp := <-s.adapter.Completions():
			if comp.Handle != handle {
				// Stale completion from a previously aborted arming.
				s.logger.Debug("spilink: discarding stale completion",
					"handle", comp.Handle, "want", handle)

				continue
			}

			s.setState(SlaveReceiving)
			s.evaluate(comp, rx)
			s.setState(SlaveIdle)

			return true
		}
	}
}

// evaluate decodes the received frame and reports the exchange outcome.
func (s *Slave) evaluate(comp Completion, rx []byte) {
	s.setState(SlaveCompleted)

	if comp.Err != nil {
		// Sequencing or transport fault: the exchanged bytes are undefined.
		s.metrics.incFaultCount()
		s.logger.Warn("spilink: exchange fault", "error", comp.Err)
		s.report(nil, OutcomeAborted)

		return
	}

	payload, wireCRC, valid := s.codec.Decode(rx)
	if !valid {
		s.metrics.incCRCErrorCount()
		s.logger.Debug("spilink: crc mismatch on received frame",
			"wireCRC", fmt.Sprintf("0x%08X", wireCRC))
		s.report(nil, OutcomeCRCMismatch)

		return
	}

	s.metrics.incFrameRecvCount()
	s.report(payload, OutcomeCRCValid)
}

// nextPayload returns the next outbound payload: a carried-over payload
// first, then the provider callback, then the internal queue. It blocks
// until a payload is available or the loop context is done.
func (s *Slave) nextPayload(ctx context.Context) ([]byte, bool) {
	if s.carry != nil {
		p := s.carry
		s.carry = nil

		return p, true
	}

	if s.provider != nil {
		return s.provider(), true
	}

	for {
		s.queueMu.Lock()
		p, ok := s.pending.Dequeue()
		s.queueMu.Unlock()

		if ok {
			return p, true
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-s.queued:
		}
	}
}

func (s *Slave) report(payload []byte, outcome Outcome) {
	if s.handler == nil {
		return
	}

	s.handler(payload, outcome)
}

func (s *Slave) setState(st SlaveState) {
	s.state.Store(uint32(st))
}
