package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/wsctl/internal/protocol/tlv"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	payload := tlv.Fields{tlv.U64(1, 9)}.Encode()
	in := Frame{
		Header:  Header{CorrelationID: 42, TypeID: 0x40000001, Flags: FlagIsResponse},
		Payload: payload,
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Magic != Magic || out.Header.TypeID != in.Header.TypeID || out.Header.CorrelationID != 42 {
		t.Fatalf("header mismatch: got=%+v want=%+v", out.Header, in.Header)
	}
	if !out.IsResponse() || out.IsError() {
		t.Fatalf("flags mismatch: %x", out.Header.Flags)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestParseFrameMatchesReadFrame(t *testing.T) {
	b, err := AppendFrame(nil, Frame{Header: Header{CorrelationID: 7, TypeID: 3}, Payload: []byte("abc")}, DefaultLimits())
	if err != nil {
		t.Fatalf("append frame: %v", err)
	}
	out, err := ParseFrame(b, DefaultLimits())
	if err != nil {
		t.Fatalf("parse frame: %v", err)
	}
	if out.Header.CorrelationID != 7 || string(out.Payload) != "abc" {
		t.Fatalf("parse mismatch: %+v", out)
	}
	if _, err := ParseFrame(b[:len(b)-1], DefaultLimits()); !errors.Is(err, ErrShortPayload) {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameInvalidMagic(t *testing.T) {
	h := Header{Magic: 1, Version: Version, HeaderLen: FixedHeaderLen, CorrelationID: 1, TypeID: 1}
	_, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestReadFrameHeaderLenMismatch(t *testing.T) {
	h := Header{Magic: Magic, Version: Version, HeaderLen: 8, CorrelationID: 1, TypeID: 1}
	_, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrInvalidHeaderLen) {
		t.Fatalf("expected ErrInvalidHeaderLen, got %v", err)
	}
}

func TestWriteFramePayloadLimit(t *testing.T) {
	err := WriteFrame(&bytes.Buffer{}, Frame{Payload: make([]byte, 16)}, Limits{MaxPayloadBytes: 8})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}
