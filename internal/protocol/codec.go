package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/danmuck/lightmesh/internal/protocol/frame"
)

// MaxPayload is the largest payload Encode accepts.
const MaxPayload = 1024

// Encode renders m as lowercase hex with no separators.
func Encode(m Message) (string, error) {
	b, err := frame.Marshal(toFrame(m), frame.Limits{MaxPayloadBytes: MaxPayload})
	if err != nil {
		if errors.Is(err, frame.ErrPayloadTooLarge) {
			return "", fmt.Errorf("%w: %v", ErrPayloadTooLarge, err)
		}
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// EncodeParts is Encode for callers that hold the fields separately. A nil
// id omits the message id.
func EncodeParts(ack AckType, typ MessageType, id *uint16, payload []byte) (string, error) {
	m := Message{Ack: ack, Type: typ, Payload: payload}
	if id != nil {
		m.HasID = true
		m.MessageID = *id
	}
	return Encode(m)
}

// Decode parses hex text. expectID tells the decoder whether bytes 2-3 are a
// message id.
func Decode(text string, expectID bool) (Message, error) {
	raw, err := decodeHex(text)
	if err != nil {
		return Message{}, err
	}
	return fromBytes(raw, expectID)
}

// DecodeDatagram parses hex text and infers id presence from the header.
func DecodeDatagram(text string) (Message, error) {
	raw, err := decodeHex(text)
	if err != nil {
		return Message{}, err
	}
	if len(raw) < frame.BaseHeaderLen {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrTooShort, len(raw))
	}
	return fromBytes(raw, CarriesMessageID(AckType(raw[0]), MessageType(raw[1])))
}

func decodeHex(text string) ([]byte, error) {
	if len(text)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrMalformedHex, len(text))
	}
	raw, err := hex.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHex, err)
	}
	return raw, nil
}

func fromBytes(raw []byte, expectID bool) (Message, error) {
	f, err := frame.Unmarshal(raw, expectID, frame.DefaultLimits())
	if err != nil {
		switch {
		case errors.Is(err, frame.ErrShortHeader):
			return Message{}, fmt.Errorf("%w: %v", ErrTooShort, err)
		case errors.Is(err, frame.ErrPayloadTooLarge):
			return Message{}, fmt.Errorf("%w: %v", ErrPayloadTooLarge, err)
		}
		return Message{}, err
	}
	return Message{
		Ack:       AckType(f.Header.Ack),
		Type:      MessageType(f.Header.Type),
		HasID:     f.Header.HasID,
		MessageID: f.Header.MessageID,
		Payload:   f.Payload,
	}, nil
}

func toFrame(m Message) frame.Frame {
	return frame.Frame{
		Header: frame.Header{
			Ack:       byte(m.Ack),
			Type:      byte(m.Type),
			HasID:     m.HasID,
			MessageID: m.MessageID,
		},
		Payload: m.Payload,
	}
}
