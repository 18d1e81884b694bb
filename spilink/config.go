package spilink

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-spilink/logger"
)

// Default configuration values. The protocol itself prescribes no retry
// count or timeout; these defaults suit a bus clocked in the low MHz range
// and should be tuned to the actual clock rate.
const (
	DefaultAttemptTimeout = 500 * time.Millisecond // master: bound per transfer attempt
	DefaultArmTimeout     = 5 * time.Second        // slave: bound on lingering Armed state
	DefaultMaxAttempts    = 3                      // total attempts per session
	DefaultRetryBackoff   = 0 * time.Millisecond   // no delay between retries
	DefaultSendTimeout    = 3 * time.Second        // queueing a session to the protocol loop
	DefaultCloseTimeout   = 3 * time.Second

	DefaultSessionQueueSize = 10
)

// Configuration range limits.
const (
	MinAttemptTimeout = 1 * time.Millisecond
	MaxAttemptTimeout = 30 * time.Second

	MinArmTimeout = 10 * time.Millisecond
	MaxArmTimeout = 5 * time.Minute

	MaxAttemptLimit = 31

	MaxRetryBackoff = 10 * time.Second
)

// LinkConfig holds all configuration for one end of a link.
//
// A single config type serves both roles: attemptTimeout, maxAttempts and
// the backoff schedule apply to the master, armTimeout to the slave.
type LinkConfig struct {
	// attemptTimeout bounds the master's wait for a completion event per
	// transfer attempt.
	attemptTimeout time.Duration

	// armTimeout bounds how long the slave stays Armed when the master never
	// follows through with a clock sequence.
	armTimeout time.Duration

	// maxAttempts is the total number of transfer attempts per session.
	maxAttempts int

	// retryBackoff is the delay applied between retries; exponentialBackoff
	// doubles it after every failed attempt.
	retryBackoff       time.Duration
	exponentialBackoff bool

	sendTimeout  time.Duration
	closeTimeout time.Duration

	sessionQueueSize int

	engine Engine

	logger logger.Logger
}

// NewLinkConfig creates a link configuration with defaults, applying the
// given functional options in order.
func NewLinkConfig(opts ...LinkOption) (*LinkConfig, error) {
	cfg := &LinkConfig{
		attemptTimeout:   DefaultAttemptTimeout,
		armTimeout:       DefaultArmTimeout,
		maxAttempts:      DefaultMaxAttempts,
		retryBackoff:     DefaultRetryBackoff,
		sendTimeout:      DefaultSendTimeout,
		closeTimeout:     DefaultCloseTimeout,
		sessionQueueSize: DefaultSessionQueueSize,
		engine:           NewSoftwareEngine(),
		logger:           logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// AttemptTimeout returns the per-attempt completion bound (master side).
func (cfg *LinkConfig) AttemptTimeout() time.Duration { return cfg.attemptTimeout }

// ArmTimeout returns the bound on lingering Armed state (slave side).
func (cfg *LinkConfig) ArmTimeout() time.Duration { return cfg.armTimeout }

// MaxAttempts returns the total number of transfer attempts per session.
func (cfg *LinkConfig) MaxAttempts() int { return cfg.maxAttempts }

// RetryBackoff returns the delay applied between retries.
func (cfg *LinkConfig) RetryBackoff() time.Duration { return cfg.retryBackoff }

// ExponentialBackoff returns whether the retry delay doubles per attempt.
func (cfg *LinkConfig) ExponentialBackoff() bool { return cfg.exponentialBackoff }

// SendTimeout returns the timeout for queueing a session to the protocol loop.
func (cfg *LinkConfig) SendTimeout() time.Duration { return cfg.sendTimeout }

// CloseTimeout returns the timeout for a graceful close.
func (cfg *LinkConfig) CloseTimeout() time.Duration { return cfg.closeTimeout }

// SessionQueueSize returns the size of the pending-session queue.
func (cfg *LinkConfig) SessionQueueSize() int { return cfg.sessionQueueSize }

// CRCEngine returns the configured CRC engine.
func (cfg *LinkConfig) CRCEngine() Engine { return cfg.engine }

// GetLogger returns the configured logger.
func (cfg *LinkConfig) GetLogger() logger.Logger { return cfg.logger }

// --- LinkOption ---

// LinkOption is a functional option for configuring a LinkConfig.
type LinkOption interface {
	apply(*LinkConfig) error
}

type linkOptFunc func(*LinkConfig) error

func (f linkOptFunc) apply(cfg *LinkConfig) error { return f(cfg) }

// WithAttemptTimeout sets the master's per-attempt completion bound.
func WithAttemptTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if d < MinAttemptTimeout || d > MaxAttemptTimeout {
			return fmt.Errorf("spilink: attempt timeout %v out of range [%v, %v]", d, MinAttemptTimeout, MaxAttemptTimeout)
		}
		cfg.attemptTimeout = d

		return nil
	})
}

// WithArmTimeout sets the slave's bound on lingering Armed state.
func WithArmTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if d < MinArmTimeout || d > MaxArmTimeout {
			return fmt.Errorf("spilink: arm timeout %v out of range [%v, %v]", d, MinArmTimeout, MaxArmTimeout)
		}
		cfg.armTimeout = d

		return nil
	})
}

// WithMaxAttempts sets the total number of transfer attempts per session.
// Must be in [1, MaxAttemptLimit].
func WithMaxAttempts(n int) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if n < 1 || n > MaxAttemptLimit {
			return fmt.Errorf("spilink: max attempts %d out of range [1, %d]", n, MaxAttemptLimit)
		}
		cfg.maxAttempts = n

		return nil
	})
}

// WithRetryBackoff sets a fixed delay between retries. When exponential is
// true the delay doubles after every failed attempt, capped at
// MaxRetryBackoff.
func WithRetryBackoff(d time.Duration, exponential bool) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if d < 0 || d > MaxRetryBackoff {
			return fmt.Errorf("spilink: retry backoff %v out of range [0, %v]", d, MaxRetryBackoff)
		}
		cfg.retryBackoff = d
		cfg.exponentialBackoff = exponential

		return nil
	})
}

// WithSendTimeout sets the timeout for queueing a session to the protocol loop.
func WithSendTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if d <= 0 {
			return errors.New("spilink: send timeout must be positive")
		}
		cfg.sendTimeout = d

		return nil
	})
}

// WithCloseTimeout sets the timeout for a graceful close.
func WithCloseTimeout(d time.Duration) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if d <= 0 {
			return errors.New("spilink: close timeout must be positive")
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithSessionQueueSize sets the size of the pending-session queue.
func WithSessionQueueSize(size int) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if size < 1 {
			return errors.New("spilink: session queue size must be >= 1")
		}
		cfg.sessionQueueSize = size

		return nil
	})
}

// WithCRCEngine sets the CRC engine, e.g. a VerifiedEngine wrapping a
// hardware peripheral. The engine must match the software reference
// bit-for-bit.
func WithCRCEngine(e Engine) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if e == nil {
			return errors.New("spilink: crc engine must not be nil")
		}
		cfg.engine = e

		return nil
	})
}

// WithFrameGeometry declares the frame geometry this end expects. The values
// must equal the compiled-in protocol constants; a disagreement is a fatal
// configuration error surfaced at construction time, before any transfer.
func WithFrameGeometry(bufferSize, crcSize int) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		return ValidateFrameGeometry(bufferSize, crcSize)
	})
}

// WithLogger sets the logger for the link endpoint.
func WithLogger(l logger.Logger) LinkOption {
	return linkOptFunc(func(cfg *LinkConfig) error {
		if l == nil {
			return errors.New("spilink: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
