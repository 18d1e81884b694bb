package spilink

import (
	"encoding/binary"
	"fmt"
)

// Shared protocol constants. Both ends of a link must agree on these
// bit-for-bit; see ValidateFrameGeometry.
const (
	// BufferSize is the number of bytes in the data payload, excluding the
	// trailing checksum. It must be a multiple of 4 for compatibility with
	// 32-bit hardware CRC units.
	BufferSize = 256

	// CRCSize is the size of the CRC-32 checksum in bytes.
	CRCSize = 4

	// FrameSize is the total on-wire size of one frame.
	FrameSize = BufferSize + CRCSize
)

// Frame is one encoded wire unit: a 256-byte payload immediately followed by
// the payload's CRC-32, little-endian. A Frame is immutable once encoded and
// lives for the duration of one transfer attempt.
type Frame struct {
	data [FrameSize]byte
}

// Bytes returns the full wire image of the frame.
func (f *Frame) Bytes() []byte {
	return f.data[:]
}

// Payload returns the payload region of the frame.
func (f *Frame) Payload() []byte {
	return f.data[:BufferSize]
}

// WireCRC returns the CRC field as encoded in the frame.
func (f *Frame) WireCRC() uint32 {
	return binary.LittleEndian.Uint32(f.data[BufferSize:])
}

// Codec assembles payloads into frames and decomposes received frames,
// using the configured CRC engine.
type Codec struct {
	engine Engine
}

// NewCodec creates a Codec. If engine is nil, the software reference engine
// is used.
func NewCodec(engine Engine) *Codec {
	if engine == nil {
		engine = NewSoftwareEngine()
	}

	return &Codec{engine: engine}
}

// Encode writes payload into a new frame and appends its CRC-32.
//
// Encode returns ErrPayloadSize if payload is not exactly BufferSize bytes;
// a wrong payload size is a caller configuration error, not a wire
// condition.
func (c *Codec) Encode(payload []byte) (*Frame, error) {
	if len(payload) != BufferSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrPayloadSize, len(payload), BufferSize)
	}

	f := &Frame{}
	copy(f.data[:BufferSize], payload)
	binary.LittleEndian.PutUint32(f.data[BufferSize:], c.engine.Compute(payload))

	return f, nil
}

// Decode extracts the payload and wire CRC from a received frame image and
// reports whether a fresh CRC computation over the payload matches the wire
// CRC.
//
// Validity is data, not control flow: Decode never returns an error. Any
// input length other than FrameSize yields valid == false, to be treated by
// the caller as a framing/timeout condition. The returned payload is a copy;
// the input is never mutated.
func (c *Codec) Decode(data []byte) (payload []byte, wireCRC uint32, valid bool) {
	if len(data) != FrameSize {
		return nil, 0, false
	}

	payload = make([]byte, BufferSize)
	copy(payload, data[:BufferSize])

	wireCRC = binary.LittleEndian.Uint32(data[BufferSize:])
	valid = c.engine.Compute(payload) == wireCRC

	return payload, wireCRC, valid
}

// ValidateFrameGeometry checks a peer's advertised frame geometry against
// the compiled-in protocol constants.
//
// A mismatch is a fatal configuration error: retrying cannot fix a
// structural disagreement, so callers must refuse to interoperate.
func ValidateFrameGeometry(bufferSize, crcSize int) error {
	if bufferSize != BufferSize || crcSize != CRCSize {
		return fmt.Errorf("%w: peer buffer/crc %d/%d, want %d/%d",
			ErrConfigMismatch, bufferSize, crcSize, BufferSize, CRCSize)
	}

	return nil
}
