package protocol

import "errors"

var (
	ErrMalformedHex    = errors.New("protocol: malformed hex")
	ErrTooShort        = errors.New("protocol: message too short")
	ErrUnknownAck      = errors.New("protocol: unknown ack type")
	ErrUnknownType     = errors.New("protocol: unknown message type")
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
)
