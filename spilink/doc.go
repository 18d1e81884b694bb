// Package spilink implements a reliable, integrity-checked exchange of
// fixed-size data buffers between two controllers joined by a full-duplex,
// master-clocked link such as SPI, with the byte-level transfer delegated to
// a DMA-style channel adapter.
//
// # Wire Format
//
// Each exchange moves one frame in each direction simultaneously:
//
//	[Payload(256)][CRC32(4, little-endian)]
//
// The CRC-32 is the conventional variant (reflected polynomial 0xEDB88320,
// initial value and final XOR 0xFFFFFFFF) computed over the payload bytes
// only. Both ends must agree on the frame geometry bit-for-bit; a size
// disagreement is a configuration error, never a protocol error.
//
// # Roles
//
// The link is asymmetric. The master owns chip-select and clock sequencing:
// it initiates every transfer, enforces the per-attempt timeout, and is the
// sole authority on retry versus give-up. The slave is purely reactive: it
// arms a transmit/receive buffer pair ahead of time and reports frame
// outcomes upstream, never retrying on its own. The two roles are modeled
// as distinct state machines ([Master] and [Slave]) because their transition
// tables and failure semantics genuinely differ.
//
// # Hardware Boundary
//
// The DMA controller, CRC peripheral, and pin/clock configuration are
// outside this package. They are consumed through two capability
// interfaces: [ChannelAdapter] (start a fixed-length full-duplex transfer,
// observe a single-fire completion event, best-effort abort) and [Engine]
// (compute a CRC-32). The same protocol core therefore runs unchanged
// against the in-memory simulated bus in the simbus package.
package spilink
