package spilink

import (
	"sync/atomic"
)

// LinkMetrics contains atomic metrics for one end of a link.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type LinkMetrics struct {
	// AttemptCount indicates the number of transfer attempts started.
	AttemptCount atomic.Uint64
	// RetryCount indicates the number of master-side retries.
	RetryCount atomic.Uint64
	// CRCErrorCount indicates the number of frames rejected by CRC check.
	CRCErrorCount atomic.Uint64
	// TimeoutCount indicates the number of attempt or arm timeouts.
	TimeoutCount atomic.Uint64
	// FaultCount indicates the number of transport-layer faults.
	FaultCount atomic.Uint64

	// FrameSendCount indicates the number of frames handed to the adapter.
	FrameSendCount atomic.Uint64
	// FrameRecvCount indicates the number of frames decoded with a valid CRC.
	FrameRecvCount atomic.Uint64

	// SessionSuccessCount indicates the number of sessions ending in success.
	SessionSuccessCount atomic.Uint64
	// SessionFailCount indicates the number of sessions ending in failure.
	SessionFailCount atomic.Uint64
	// SessionInflightCount indicates the number of sessions queued or running.
	SessionInflightCount atomic.Int64
}

func (m *LinkMetrics) incAttemptCount() {
	m.AttemptCount.Add(1)
}

func (m *LinkMetrics) incRetryCount() {
	m.RetryCount.Add(1)
}

func (m *LinkMetrics) incCRCErrorCount() {
	m.CRCErrorCount.Add(1)
}

func (m *LinkMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *LinkMetrics) incFaultCount() {
	m.FaultCount.Add(1)
}

func (m *LinkMetrics) incFrameSendCount() {
	m.FrameSendCount.Add(1)
}

func (m *LinkMetrics) incFrameRecvCount() {
	m.FrameRecvCount.Add(1)
}

func (m *LinkMetrics) incSessionSuccessCount() {
	m.SessionSuccessCount.Add(1)
}

func (m *LinkMetrics) incSessionFailCount() {
	m.SessionFailCount.Add(1)
}

func (m *LinkMetrics) incSessionInflightCount() {
	m.SessionInflightCount.Add(1)
}

func (m *LinkMetrics) decSessionInflightCount() {
	m.SessionInflightCount.Add(-1)
}
