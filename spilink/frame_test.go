package spilink

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload(seed byte) []byte {
	p := make([]byte, BufferSize)
	for i := range p {
		p[i] = seed + byte(i)
	}

	return p
}

func TestCodecEncodeDecode(t *testing.T) {
	codec := NewCodec(nil)
	payload := testPayload(7)

	frame, err := codec.Encode(payload)
	require.NoError(t, err)

	assert.Len(t, frame.Bytes(), FrameSize)
	assert.Equal(t, payload, frame.Payload())
	assert.Equal(t, crc32.ChecksumIEEE(payload), frame.WireCRC())

	decoded, wireCRC, valid := codec.Decode(frame.Bytes())
	require.True(t, valid)
	assert.Equal(t, payload, decoded)
	assert.Equal(t, frame.WireCRC(), wireCRC)
}

func TestCodecEncodePayloadSize(t *testing.T) {
	codec := NewCodec(nil)

	for _, size := range []int{0, 1, BufferSize - 1, BufferSize + 1, FrameSize} {
		_, err := codec.Encode(make([]byte, size))
		require.ErrorIs(t, err, ErrPayloadSize, "size %d must be rejected", size)
	}
}

func TestCodecDecodeCorruption(t *testing.T) {
	codec := NewCodec(nil)

	frame, err := codec.Encode(testPayload(3))
	require.NoError(t, err)

	// Flip one payload bit.
	wire := append([]byte(nil), frame.Bytes()...)
	wire[10] ^= 0x01

	_, _, valid := codec.Decode(wire)
	assert.False(t, valid, "payload corruption must invalidate the frame")

	// Flip one CRC bit instead.
	wire = append([]byte(nil), frame.Bytes()...)
	wire[BufferSize] ^= 0x01

	_, _, valid = codec.Decode(wire)
	assert.False(t, valid, "checksum corruption must invalidate the frame")
}

func TestCodecDecodeWrongLength(t *testing.T) {
	codec := NewCodec(nil)

	for _, size := range []int{0, BufferSize, FrameSize - 1, FrameSize + 1} {
		payload, wireCRC, valid := codec.Decode(make([]byte, size))
		assert.False(t, valid, "length %d must be invalid", size)
		assert.Nil(t, payload)
		assert.Zero(t, wireCRC)
	}
}

func TestCodecDecodeCopiesPayload(t *testing.T) {
	codec := NewCodec(nil)

	frame, err := codec.Encode(testPayload(1))
	require.NoError(t, err)

	wire := append([]byte(nil), frame.Bytes()...)
	decoded, _, valid := codec.Decode(wire)
	require.True(t, valid)

	wire[0] ^= 0xFF
	assert.Equal(t, byte(1), decoded[0], "decoded payload must not alias the input")
}

func TestValidateFrameGeometry(t *testing.T) {
	require.NoError(t, ValidateFrameGeometry(BufferSize, CRCSize))

	require.ErrorIs(t, ValidateFrameGeometry(BufferSize*2, CRCSize), ErrConfigMismatch)
	require.ErrorIs(t, ValidateFrameGeometry(BufferSize, 2), ErrConfigMismatch)
	require.ErrorIs(t, ValidateFrameGeometry(0, 0), ErrConfigMismatch)
}

func TestFrameGeometryConstants(t *testing.T) {
	assert.Equal(t, 0, BufferSize%4, "payload must stay 32-bit aligned for hardware CRC units")
	assert.Equal(t, BufferSize+CRCSize, FrameSize)
}
