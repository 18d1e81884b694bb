package spilink

import "hash/crc32"

// Engine computes a 32-bit checksum over a frame payload.
//
// Implementations must be deterministic and side-effect free. The contract
// is the conventional CRC-32: reflected polynomial 0xEDB88320, initial value
// 0xFFFFFFFF, final XOR 0xFFFFFFFF, computed over the payload bytes only.
type Engine interface {
	// Compute returns the CRC-32 of payload.
	Compute(payload []byte) uint32
}

// SoftwareEngine is the reference CRC-32 implementation. It defines
// correctness for the link: any accelerator engine must produce bit-identical
// results (see VerifiedEngine).
type SoftwareEngine struct{}

// NewSoftwareEngine creates the software reference engine.
func NewSoftwareEngine() *SoftwareEngine {
	return &SoftwareEngine{}
}

// Compute returns the conventional CRC-32 of payload.
func (*SoftwareEngine) Compute(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// DivergenceHandler is invoked when an accelerator engine disagrees with the
// software reference. accel and ref carry the two checksums. Handlers that
// propagate the condition as an error should wrap ErrCRCDivergence.
type DivergenceHandler func(payload []byte, accel, ref uint32)

// VerifiedEngine wraps a hardware-accelerated CRC engine and cross-validates
// every result against the software reference.
//
// The software result is always returned; on divergence the handler is
// invoked so the application can take the accelerator out of service. A
// misbehaving peripheral therefore degrades to the software path instead of
// corrupting the link.
type VerifiedEngine struct {
	accel        Engine
	ref          Engine
	onDivergence DivergenceHandler
}

// NewVerifiedEngine creates a cross-validating wrapper around accel.
// handler may be nil.
func NewVerifiedEngine(accel Engine, handler DivergenceHandler) *VerifiedEngine {
	return &VerifiedEngine{
		accel:        accel,
		ref:          NewSoftwareEngine(),
		onDivergence: handler,
	}
}

// Compute returns the software-reference CRC-32 of payload, reporting any
// accelerator divergence through the handler.
func (e *VerifiedEngine) Compute(payload []byte) uint32 {
	ref := e.ref.Compute(payload)

	if accel := e.accel.Compute(payload); accel != ref && e.onDivergence != nil {
		e.onDivergence(payload, accel, ref)
	}

	return ref
}
