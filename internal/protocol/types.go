package protocol

import "fmt"

// AckType tells the receiver whether a datagram expects, carries, or skips
// an acknowledgment.
type AckType byte

const (
	AckNone     AckType = 0x00
	AckRequest  AckType = 0x01
	AckResponse AckType = 0x02
)

func (a AckType) Valid() bool {
	switch a {
	case AckNone, AckRequest, AckResponse:
		return true
	default:
		return false
	}
}

func (a AckType) String() string {
	switch a {
	case AckNone:
		return "none"
	case AckRequest:
		return "request"
	case AckResponse:
		return "response"
	default:
		return fmt.Sprintf("ack(0x%02x)", byte(a))
	}
}

type MessageType byte

const (
	TypeNormal    MessageType = 0x00
	TypePairing   MessageType = 0x01
	TypeReconnect MessageType = 0x02
	TypeHeartbeat MessageType = 0x03
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeNormal, TypePairing, TypeReconnect, TypeHeartbeat:
		return true
	default:
		return false
	}
}

func (t MessageType) String() string {
	switch t {
	case TypeNormal:
		return "normal"
	case TypePairing:
		return "pairing"
	case TypeReconnect:
		return "reconnect"
	case TypeHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("type(0x%02x)", byte(t))
	}
}

// Message is one decoded datagram.
type Message struct {
	Ack       AckType
	Type      MessageType
	HasID     bool
	MessageID uint16
	Payload   []byte
}

// CarriesMessageID reports whether a datagram with this header takes part in
// reliable delivery and so carries a message id.
func CarriesMessageID(ack AckType, typ MessageType) bool {
	return typ == TypeNormal && (ack == AckRequest || ack == AckResponse)
}

// Validate checks the enumerations and id presence.
func (m Message) Validate() error {
	if !m.Ack.Valid() {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownAck, byte(m.Ack))
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownType, byte(m.Type))
	}
	return nil
}

func (m Message) String() string {
	if m.HasID {
		return fmt.Sprintf("%s/%s id=%d len=%d", m.Type, m.Ack, m.MessageID, len(m.Payload))
	}
	return fmt.Sprintf("%s/%s len=%d", m.Type, m.Ack, len(m.Payload))
}

// NewReliable builds a Request-acked Normal message.
func NewReliable(id uint16, payload []byte) Message {
	return Message{Ack: AckRequest, Type: TypeNormal, HasID: true, MessageID: id, Payload: payload}
}

// NewAcknowledgment builds the Response that resolves reliable message id.
func NewAcknowledgment(id uint16) Message {
	return Message{Ack: AckResponse, Type: TypeNormal, HasID: true, MessageID: id}
}

// NewControl builds an id-less message of the given kind.
func NewControl(ack AckType, typ MessageType, payload []byte) Message {
	return Message{Ack: ack, Type: typ, Payload: payload}
}
