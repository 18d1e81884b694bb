package spilink

import "time"

// Decision is the retry policy's verdict after a failed attempt.
type Decision uint8

const (
	// DecisionGiveUp terminates the session with the last outcome.
	DecisionGiveUp Decision = iota

	// DecisionRetry authorizes another transfer attempt.
	DecisionRetry
)

// String returns the string representation of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionRetry:
		return "retry"
	case DecisionGiveUp:
		return "give-up"
	default:
		return "unknown"
	}
}

// Policy decides, from a finished attempt's outcome and the session's
// attempt count, whether the master should retry or give up.
//
// Decide is pure; the optional backoff schedule is returned separately via
// BackoffDelay and applied by the master loop between attempts, never
// inside the decision itself.
type Policy struct {
	maxAttempts int
	backoff     time.Duration
	exponential bool
}

// NewPolicy creates a retry policy with the given total attempt budget and
// backoff schedule. backoff <= 0 disables delays between retries; when
// exponential is true the delay doubles after every failed attempt.
func NewPolicy(maxAttempts int, backoff time.Duration, exponential bool) *Policy {
	return &Policy{
		maxAttempts: maxAttempts,
		backoff:     backoff,
		exponential: exponential,
	}
}

// MaxAttempts returns the total attempt budget per session.
func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// Decide returns DecisionRetry iff outcome is recoverable and the session
// has attempt budget left. attempt is the number of attempts completed so
// far (the attempt that just finished counts), so a session makes at most
// MaxAttempts transfers.
func (p *Policy) Decide(outcome Outcome, attempt int) Decision {
	if !outcome.Retryable() {
		return DecisionGiveUp
	}

	if attempt >= p.maxAttempts {
		return DecisionGiveUp
	}

	return DecisionRetry
}

// BackoffDelay returns the delay to apply before the retry that follows the
// given completed attempt count. Returns 0 when backoff is disabled.
func (p *Policy) BackoffDelay(attempt int) time.Duration {
	if p.backoff <= 0 {
		return 0
	}

	if !p.exponential || attempt <= 1 {
		return p.backoff
	}

	d := p.backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= MaxRetryBackoff {
			return MaxRetryBackoff
		}
	}

	return d
}
