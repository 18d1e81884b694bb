package spilink

// Outcome classifies the result of a completed transfer attempt. It is
// consumed by the retry policy and, at session end, by the application.
type Outcome uint8

const (
	// OutcomeUnknown is the zero value; no attempt has completed.
	OutcomeUnknown Outcome = iota

	// OutcomeCRCValid indicates the received frame decoded with a matching CRC.
	OutcomeCRCValid

	// OutcomeCRCMismatch indicates the received frame had a valid length but
	// its CRC did not match a fresh computation over the payload. The payload
	// was corrupted in transit; recoverable via retry.
	OutcomeCRCMismatch

	// OutcomeTimeout indicates no completion event arrived within the attempt
	// bound. May signal clock or arming desynchronization; recoverable via
	// retry.
	OutcomeTimeout

	// OutcomeAborted indicates the transfer was aborted on this side, or the
	// exchanged bytes were detected as undefined (e.g. the slave was not yet
	// armed when the master began clocking). Never retried by the slave.
	OutcomeAborted

	// OutcomeCancelled indicates the application cancelled the session.
	// Deliberate; never retried.
	OutcomeCancelled

	// OutcomeHardwareFault indicates the transport layer signaled an error
	// such as an overrun or underrun. Treated like OutcomeTimeout for retry
	// purposes, but logged distinctly.
	OutcomeHardwareFault
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeCRCValid:
		return "crc-valid"
	case OutcomeCRCMismatch:
		return "crc-mismatch"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeAborted:
		return "aborted"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeHardwareFault:
		return "hardware-fault"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt can recover from this outcome.
// Aborted and cancelled attempts are deliberate and never retried.
func (o Outcome) Retryable() bool {
	switch o {
	case OutcomeCRCMismatch, OutcomeTimeout, OutcomeHardwareFault:
		return true
	default:
		return false
	}
}
