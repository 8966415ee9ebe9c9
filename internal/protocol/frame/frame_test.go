package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := Frame{
		Header:  Header{Ack: 0x01, Type: 0x00, HasID: true, MessageID: 0x1234},
		Payload: []byte("temp=21"),
	}
	b, err := Marshal(in, DefaultLimits())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(b[:4], []byte{0x01, 0x00, 0x12, 0x34}) {
		t.Fatalf("unexpected header bytes: % x", b[:4])
	}
	out, err := Unmarshal(b, true, DefaultLimits())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Header != in.Header {
		t.Fatalf("header mismatch: got=%+v want=%+v", out.Header, in.Header)
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("payload mismatch: got=%q", out.Payload)
	}
}

func TestUnmarshalWithoutIDKeepsBytesInPayload(t *testing.T) {
	out, err := Unmarshal([]byte{0x00, 0x03, 0xaa, 0xbb}, false, DefaultLimits())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Header.HasID || out.Header.MessageID != 0 {
		t.Fatalf("unexpected id in header: %+v", out.Header)
	}
	if !bytes.Equal(out.Payload, []byte{0xaa, 0xbb}) {
		t.Fatalf("payload mismatch: % x", out.Payload)
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	if _, err := DecodeHeader([]byte{0x01}, false); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
	if _, err := DecodeHeader([]byte{0x01, 0x00, 0x12}, true); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader with id, got %v", err)
	}
}

func TestPayloadLimit(t *testing.T) {
	limits := Limits{MaxPayloadBytes: 4}
	_, err := Marshal(Frame{Payload: make([]byte, 5)}, limits)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on marshal, got %v", err)
	}
	_, err = Unmarshal(make([]byte, 2+5), false, limits)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on unmarshal, got %v", err)
	}
}
