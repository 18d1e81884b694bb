package spilink

import "errors"

// Sentinel errors for the link protocol.
var (
	// Frame and configuration errors.
	ErrPayloadSize    = errors.New("spilink: payload size mismatch")
	ErrConfigMismatch = errors.New("spilink: frame geometry mismatch")
	ErrCRCDivergence  = errors.New("spilink: crc accelerator diverged from software reference")

	// Channel adapter errors.
	ErrTransferActive = errors.New("spilink: transfer already active on channel")

	// Session-level errors.
	ErrSessionFailed = errors.New("spilink: session failed")
	ErrSendTimeout   = errors.New("spilink: session queue timeout")
	ErrLinkClosed    = errors.New("spilink: link closed")
	ErrNotOpen       = errors.New("spilink: link not open")
)
