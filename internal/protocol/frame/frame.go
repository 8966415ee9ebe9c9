package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// BaseHeaderLen covers the ack and type bytes present on every datagram.
	BaseHeaderLen = 2
	// IDLen is the width of the optional big-endian message id.
	IDLen = 2
)

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Header is the leading part of one mesh datagram.
type Header struct {
	Ack       byte
	Type      byte
	HasID     bool
	MessageID uint16
}

// Len returns the encoded header width.
func (h Header) Len() int {
	if h.HasID {
		return BaseHeaderLen + IDLen
	}
	return BaseHeaderLen
}

// Frame is one complete datagram body.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame encode/decode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 1024,
	}
}

func Marshal(f Frame, limits Limits) ([]byte, error) {
	if limits.MaxPayloadBytes > 0 && len(f.Payload) > limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}
	buf := make([]byte, 0, f.Header.Len()+len(f.Payload))
	buf = append(buf, EncodeHeader(f.Header)...)
	buf = append(buf, f.Payload...)
	return buf, nil
}

// Unmarshal splits b into header and payload. withID selects whether the
// two bytes after the type byte are read as a message id.
func Unmarshal(b []byte, withID bool, limits Limits) (Frame, error) {
	h, err := DecodeHeader(b, withID)
	if err != nil {
		return Frame{}, err
	}
	rest := b[h.Len():]
	if limits.MaxPayloadBytes > 0 && len(rest) > limits.MaxPayloadBytes {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(rest))
	}
	payload := make([]byte, len(rest))
	copy(payload, rest)
	return Frame{Header: h, Payload: payload}, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, h.Len())
	buf[0] = h.Ack
	buf[1] = h.Type
	if h.HasID {
		binary.BigEndian.PutUint16(buf[2:4], h.MessageID)
	}
	return buf
}

func DecodeHeader(b []byte, withID bool) (Header, error) {
	need := BaseHeaderLen
	if withID {
		need += IDLen
	}
	if len(b) < need {
		return Header{}, fmt.Errorf("%w: have %d bytes, need %d", ErrShortHeader, len(b), need)
	}
	h := Header{Ack: b[0], Type: b[1], HasID: withID}
	if withID {
		h.MessageID = binary.BigEndian.Uint16(b[2:4])
	}
	return h, nil
}
