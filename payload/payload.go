// Package payload maps structured telemetry records onto the link's
// fixed-size payload buffer.
//
// A record is encoded as a 2-byte big-endian length prefix followed by the
// CBOR body, zero-padded to exactly spilink.BufferSize bytes. The prefix
// lets the receiver recover the body from the padded buffer; CBOR keeps
// the body compact and lets either side add fields without breaking the
// other.
package payload

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/arloliu/go-spilink/spilink"
)

const lenPrefixSize = 2

// MaxBodySize is the largest encoded record body that fits in one buffer.
const MaxBodySize = spilink.BufferSize - lenPrefixSize

var (
	// ErrRecordTooLarge indicates the encoded record does not fit in one
	// payload buffer.
	ErrRecordTooLarge = errors.New("payload: encoded record exceeds buffer size")

	// ErrBadLength indicates a length prefix pointing past the buffer.
	ErrBadLength = errors.New("payload: length prefix out of range")
)

// Record is one telemetry sample exchanged over the link. Integer keys keep
// the encoded form small enough for the fixed buffer.
type Record struct {
	Seq       uint64    `cbor:"1,keyasint"`
	Timestamp int64     `cbor:"2,keyasint"`
	Source    string    `cbor:"3,keyasint,omitempty"`
	Readings  []float64 `cbor:"4,keyasint,omitempty"`
	Flags     uint32    `cbor:"5,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes r into a fresh buffer of exactly spilink.BufferSize bytes.
func Marshal(r *Record) ([]byte, error) {
	body, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("payload: encode record: %w", err)
	}

	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("%w: body %d bytes, max %d", ErrRecordTooLarge, len(body), MaxBodySize)
	}

	buf := make([]byte, spilink.BufferSize)
	binary.BigEndian.PutUint16(buf, uint16(len(body)))
	copy(buf[lenPrefixSize:], body)

	return buf, nil
}

// Unmarshal decodes a record from a received payload buffer.
func Unmarshal(buf []byte) (*Record, error) {
	if len(buf) != spilink.BufferSize {
		return nil, fmt.Errorf("%w: buffer %d bytes, want %d", spilink.ErrPayloadSize, len(buf), spilink.BufferSize)
	}

	n := int(binary.BigEndian.Uint16(buf))
	if n > MaxBodySize {
		return nil, fmt.Errorf("%w: body length %d, max %d", ErrBadLength, n, MaxBodySize)
	}

	var r Record
	if err := decMode.Unmarshal(buf[lenPrefixSize:lenPrefixSize+n], &r); err != nil {
		return nil, fmt.Errorf("payload: decode record: %w", err)
	}

	return &r, nil
}
