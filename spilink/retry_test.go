package spilink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyDecideNonRetryable(t *testing.T) {
	p := NewPolicy(5, 0, false)

	for _, outcome := range []Outcome{OutcomeUnknown, OutcomeCRCValid, OutcomeAborted, OutcomeCancelled} {
		assert.Equal(t, DecisionGiveUp, p.Decide(outcome, 1),
			"outcome %s must never be retried", outcome)
	}
}

func TestPolicyDecideBudget(t *testing.T) {
	p := NewPolicy(3, 0, false)

	for _, outcome := range []Outcome{OutcomeCRCMismatch, OutcomeTimeout, OutcomeHardwareFault} {
		assert.Equal(t, DecisionRetry, p.Decide(outcome, 1), "outcome %s, attempt 1", outcome)
		assert.Equal(t, DecisionRetry, p.Decide(outcome, 2), "outcome %s, attempt 2", outcome)
		assert.Equal(t, DecisionGiveUp, p.Decide(outcome, 3), "outcome %s, attempt 3", outcome)
	}
}

func TestPolicySingleAttempt(t *testing.T) {
	p := NewPolicy(1, 0, false)

	assert.Equal(t, DecisionGiveUp, p.Decide(OutcomeCRCMismatch, 1))
	assert.Equal(t, DecisionGiveUp, p.Decide(OutcomeTimeout, 1))
}

func TestPolicyTwoAttempts(t *testing.T) {
	// A corrupted first exchange leaves exactly one more attempt.
	p := NewPolicy(2, 0, false)

	assert.Equal(t, DecisionRetry, p.Decide(OutcomeCRCMismatch, 1))
	assert.Equal(t, DecisionGiveUp, p.Decide(OutcomeCRCMismatch, 2))
}

func TestPolicyBackoffDisabled(t *testing.T) {
	p := NewPolicy(3, 0, false)

	assert.Zero(t, p.BackoffDelay(1))
	assert.Zero(t, p.BackoffDelay(2))
}

func TestPolicyBackoffFixed(t *testing.T) {
	p := NewPolicy(5, 10*time.Millisecond, false)

	assert.Equal(t, 10*time.Millisecond, p.BackoffDelay(1))
	assert.Equal(t, 10*time.Millisecond, p.BackoffDelay(4))
}

func TestPolicyBackoffExponential(t *testing.T) {
	p := NewPolicy(10, 10*time.Millisecond, true)

	assert.Equal(t, 10*time.Millisecond, p.BackoffDelay(1))
	assert.Equal(t, 20*time.Millisecond, p.BackoffDelay(2))
	assert.Equal(t, 40*time.Millisecond, p.BackoffDelay(3))
	assert.Equal(t, 80*time.Millisecond, p.BackoffDelay(4))
}

func TestPolicyBackoffCap(t *testing.T) {
	p := NewPolicy(31, time.Second, true)

	assert.Equal(t, MaxRetryBackoff, p.BackoffDelay(20))
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "retry", DecisionRetry.String())
	assert.Equal(t, "give-up", DecisionGiveUp.String())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "crc-valid", OutcomeCRCValid.String())
	assert.Equal(t, "crc-mismatch", OutcomeCRCMismatch.String())
	assert.Equal(t, "timeout", OutcomeTimeout.String())
	assert.Equal(t, "aborted", OutcomeAborted.String())
	assert.Equal(t, "cancelled", OutcomeCancelled.String())
	assert.Equal(t, "hardware-fault", OutcomeHardwareFault.String())
	assert.Equal(t, "unknown", OutcomeUnknown.String())
}
