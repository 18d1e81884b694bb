package spilink

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-spilink/internal/pool"
	"github.com/arloliu/go-spilink/internal/task"
	"github.com/arloliu/go-spilink/logger"
)

// SessionState represents the master state machine for one protocol session.
type SessionState uint32

const (
	// SessionIdle indicates no session is running.
	SessionIdle SessionState = iota
	// SessionEncoding indicates the outgoing payload is being framed.
	SessionEncoding
	// SessionTransferring indicates a DMA transfer is in flight.
	SessionTransferring
	// SessionEvaluating indicates a completed transfer is being decoded.
	SessionEvaluating
	// SessionRetrying indicates the retry policy is being consulted.
	SessionRetrying
	// SessionSucceeded is terminal: the slave's payload was delivered.
	SessionSucceeded
	// SessionFailed is terminal: attempts exhausted or a non-retryable
	// condition occurred.
	SessionFailed
)

// String returns the string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionEncoding:
		return "encoding"
	case SessionTransferring:
		return "transferring"
	case SessionEvaluating:
		return "evaluating"
	case SessionRetrying:
		return "retrying"
	case SessionSucceeded:
		return "succeeded"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the terminal outcome of a session, delivered to the application
// by [Master.Send].
type Result struct {
	// Payload is the slave's decoded payload from the full-duplex exchange.
	// Nil unless Outcome is OutcomeCRCValid.
	Payload []byte

	// Outcome is the session's final outcome.
	Outcome Outcome

	// Attempts is the number of transfer attempts the session made.
	Attempts int
}

// Success reports whether the session delivered a valid payload.
func (r *Result) Success() bool {
	return r.Outcome == OutcomeCRCValid
}

// sessionRequest carries one queued session through the protocol loop.
type sessionRequest struct {
	id      uint64
	ctx     context.Context
	payload []byte
}

// Master is the active side of the link. It drives chip-select and clock
// sequencing (delegated to the channel adapter), initiates transfers,
// applies the retry policy, and reports session outcomes.
//
// Sessions are serialized through a single protocol loop so that exactly one
// transfer attempt is ever in flight on the channel.
type Master struct {
	pctx    context.Context
	cfg     *LinkConfig
	adapter ChannelAdapter
	codec   *Codec
	policy  *Policy
	logger  logger.Logger

	taskMgr *task.Manager
	running atomic.Bool
	state   atomic.Uint32

	idGen       atomic.Uint64
	sessionChan chan *sessionRequest
	resultChans *xsync.MapOf[uint64, chan *Result]

	metrics LinkMetrics
}

// NewMaster creates the master end of a link on the given channel adapter.
func NewMaster(ctx context.Context, adapter ChannelAdapter, cfg *LinkConfig) (*Master, error) {
	if adapter == nil {
		return nil, errors.New("spilink: channel adapter is nil")
	}
	if cfg == nil {
		return nil, errors.New("spilink: link config is nil")
	}

	m := &Master{
		pctx:        ctx,
		cfg:         cfg,
		adapter:     adapter,
		codec:       NewCodec(cfg.engine),
		policy:      NewPolicy(cfg.maxAttempts, cfg.retryBackoff, cfg.exponentialBackoff),
		logger:      cfg.logger,
		taskMgr:     task.NewManager(ctx, cfg.logger),
		sessionChan: make(chan *sessionRequest, cfg.sessionQueueSize),
		resultChans: xsync.NewMapOf[uint64, chan *Result](),
	}

	return m, nil
}

// Open starts the protocol loop. It must be called before Send.
func (m *Master) Open() error {
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}

	if err := m.taskMgr.Start("masterProtocolLoop", m.loopIteration); err != nil {
		m.running.Store(false)

		return err
	}

	return nil
}

// Close stops the protocol loop and waits for it to terminate. Any queued
// or in-flight session is aborted.
func (m *Master) Close() error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}

	m.taskMgr.Stop()

	done := make(chan struct{})
	go func() {
		m.taskMgr.Wait()
		close(done)
	}()

	closeTimer := pool.GetTimer(m.cfg.closeTimeout)
	defer pool.PutTimer(closeTimer)

	select {
	case <-done:
		m.dropAllResultChans()

		return nil
	case <-closeTimer.C:
		m.logger.Error("spilink: master close timeout", "timeout", m.cfg.closeTimeout)

		return errors.New("spilink: close timeout")
	}
}

// State returns the state of the current (or most recent) session.
func (m *Master) State() SessionState {
	return SessionState(m.state.Load())
}

// GetMetrics returns the metrics associated with this end of the link.
func (m *Master) GetMetrics() *LinkMetrics {
	return &m.metrics
}

// GetLogger returns the logger associated with this end of the link.
func (m *Master) GetLogger() logger.Logger {
	return m.logger
}

// Send exchanges one payload with the slave and returns the slave's payload
// from the same full-duplex session.
//
// Send blocks until the session terminates. On success the Result carries
// the slave's decoded payload and the attempt count. On terminal failure the
// Result is still returned (with the final outcome and attempt count),
// wrapped alongside ErrSessionFailed.
//
// Cancelling ctx cancels the session: an in-flight transfer is aborted and
// the session terminates with OutcomeCancelled, never retrying.
func (m *Master) Send(ctx context.Context, payload []byte) (*Result, error) {
	if !m.running.Load() {
		return nil, ErrNotOpen
	}

	if len(payload) != BufferSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrPayloadSize, len(payload), BufferSize)
	}

	// The application owns the payload until handed to the codec; copy so a
	// caller reusing its buffer cannot race the transfer.
	buf := make([]byte, BufferSize)
	copy(buf, payload)

	id := m.idGen.Add(1)
	req := &sessionRequest{id: id, ctx: ctx, payload: buf}

	resultChan := make(chan *Result, 1)
	m.resultChans.Store(id, resultChan)

	loopDone := m.taskMgr.Context().Done()

	if err := m.queueSession(ctx, req); err != nil {
		m.resultChans.Delete(id)

		return nil, err
	}

	m.metrics.incSessionInflightCount()
	defer m.metrics.decSessionInflightCount()

	select {
	case <-loopDone:
		m.resultChans.Delete(id)

		return nil, ErrLinkClosed

	case res := <-resultChan:
		m.resultChans.Delete(id)

		if res == nil {
			// Channel closed during link shutdown.
			return nil, ErrLinkClosed
		}

		if !res.Success() {
			return res, fmt.Errorf("%w: outcome %s after %d attempts", ErrSessionFailed, res.Outcome, res.Attempts)
		}

		return res, nil
	}
}

// queueSession puts a session request onto the protocol loop's channel.
func (m *Master) queueSession(ctx context.Context, req *sessionRequest) error {
	timer := pool.GetTimer(m.cfg.sendTimeout)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrSendTimeout
	case m.sessionChan <- req:
		return nil
	}
}

// --- Protocol loop ---

// loopIteration performs a single iteration of the protocol loop: wait for
// a queued session and run it to termination.
func (m *Master) loopIteration() bool {
	ctx := m.taskMgr.Context()

	select {
	case <-ctx.Done():
		return false

	case req := <-m.sessionChan:
		if req == nil {
			return true
		}

		m.runSession(ctx, req)

		return true
	}
}

// runSession executes one protocol session: up to MaxAttempts transfer
// attempts governed by the retry policy.
func (m *Master) runSession(ctx context.Context, req *sessionRequest) {
	defer m.setState(SessionIdle)

	res := &Result{}

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		if req.ctx.Err() != nil {
			res.Outcome = OutcomeCancelled

			break
		}

		m.metrics.incAttemptCount()

		outcome, payload := m.runAttempt(ctx, req, attempt)
		res.Outcome = outcome

		if outcome == OutcomeCRCValid {
			res.Payload = payload
			m.setState(SessionSucceeded)
			m.metrics.incSessionSuccessCount()
			m.deliverResult(req, res)

			return
		}

		// Cancelled and aborted attempts are deliberate; the policy is
		// never consulted for them.
		if !outcome.Retryable() {
			break
		}

		m.setState(SessionRetrying)

		if m.policy.Decide(outcome, attempt) != DecisionRetry {
			break
		}

		m.metrics.incRetryCount()
		m.logger.Debug("spilink: retrying session",
			"session", req.id,
			"attempt", attempt,
			"maxAttempts", m.policy.MaxAttempts(),
			"outcome", outcome.String(),
		)

		if d := m.policy.BackoffDelay(attempt); d > 0 {
			if !m.sleepBackoff(ctx, req.ctx, d) {
				res.Outcome = OutcomeCancelled
				res.Attempts = attempt

				break
			}
		}
	}

	m.setState(SessionFailed)
	m.metrics.incSessionFailCount()
	m.logger.Warn("spilink: session failed",
		"session", req.id,
		"outcome", res.Outcome.String(),
		"attempts", res.Attempts,
	)
	m.deliverResult(req, res)
}

// runAttempt performs one transfer attempt: encode, start the DMA exchange,
// and wait for the completion event or the attempt timeout, whichever
// arrives first. The loser of that race is discarded: a completion arriving
// after an abort is detected by handle mismatch and ignored.
func (m *Master) runAttempt(ctx context.Context, req *sessionRequest, attempt int) (Outcome, []byte) {
	m.setState(SessionEncoding)

	frame, err := m.codec.Encode(req.payload)
	if err != nil {
		// Payload size is validated in Send; reaching this is a programming error.
		m.logger.Error("spilink: encode failed", "session", req.id, "error", err)

		return OutcomeAborted, nil
	}

	// Fresh buffer per attempt: the adapter owns it until completion.
	rx := make([]byte, FrameSize)

	m.setState(SessionTransferring)

	handle, err := m.adapter.Start(frame.Bytes(), rx)
	if err != nil {
		m.logger.Error("spilink: transfer start failed", "session", req.id, "error", err)
		m.metrics.incFaultCount()

		return OutcomeHardwareFault, nil
	}

	m.metrics.incFrameSendCount()

	timer := pool.GetTimer(m.cfg.attemptTimeout)
	defer pool.PutTimer(timer)

	for {
		select {
		case <-ctx.Done():
			m.adapter.Abort(handle)

			return OutcomeCancelled, nil

		case <-req.ctx.Done():
			m.adapter.Abort(handle)
			m.logger.Debug("spilink: session cancelled mid-transfer",
				"session", req.id, "attempt", attempt)

			return OutcomeCancelled, nil

		case <-timer.C:
			m.adapter.Abort(handle)
			m.metrics.incTimeoutCount()
			m.logger.Debug("spilink: attempt timeout",
				"session", req.id,
				"attempt", attempt,
				"timeout", m.cfg.attemptTimeout,
			)

			return OutcomeTimeout, nil

		case comp := <-m.adapter.Completions():
			if comp.Handle != handle {
				// Stale completion from a previously aborted attempt.
				m.logger.Debug("spilink: discarding stale completion",
					"session", req.id, "handle", comp.Handle, "want", handle)

				continue
			}

			m.setState(SessionEvaluating)

			if comp.Err != nil {
				m.metrics.incFaultCount()
				m.logger.Warn("spilink: transport fault",
					"session", req.id, "attempt", attempt, "error", comp.Err)

				return OutcomeHardwareFault, nil
			}

			payload, wireCRC, valid := m.codec.Decode(rx)
			if !valid {
				m.metrics.incCRCErrorCount()
				m.logger.Debug("spilink: crc mismatch",
					"session", req.id,
					"attempt", attempt,
					"wireCRC", fmt.Sprintf("0x%08X", wireCRC),
				)

				return OutcomeCRCMismatch, nil
			}

			m.metrics.incFrameRecvCount()

			return OutcomeCRCValid, payload
		}
	}
}

// sleepBackoff waits d before the next attempt, returning false if the link
// or the session is cancelled during the wait.
func (m *Master) sleepBackoff(ctx, reqCtx context.Context, d time.Duration) bool {
	timer := pool.GetTimer(d)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return false
	case <-reqCtx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// deliverResult hands the terminal result to the waiting Send call.
func (m *Master) deliverResult(req *sessionRequest, res *Result) {
	ch, ok := m.resultChans.Load(req.id)
	if !ok || ch == nil {
		m.logger.Debug("spilink: no waiter for session result", "session", req.id)

		return
	}

	// Buffered channel; the waiter may already have given up.
	select {
	case ch <- res:
	default:
	}
}

func (m *Master) dropAllResultChans() {
	m.resultChans.Range(func(id uint64, ch chan *Result) bool {
		if ch != nil {
			close(ch)
		}

		return true
	})

	m.resultChans.Clear()
}

func (m *Master) setState(s SessionState) {
	m.state.Store(uint32(s))
}
