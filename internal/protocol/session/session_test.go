package session

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/wsctl/internal/control"
	"github.com/danmuck/wsctl/internal/protocol/frame"
	"github.com/danmuck/wsctl/internal/protocol/schema"
	"github.com/danmuck/wsctl/internal/protocol/tlv"
	"github.com/danmuck/wsctl/internal/testutil/testlog"
)

type fixedIDs struct{ next uint64 }

func (f *fixedIDs) NextID() uint64 {
	f.next++
	return f.next
}

func newEncoder(t *testing.T) *control.Encoder {
	t.Helper()
	scratch, err := control.NewScratch(control.DefaultScratchCapacity)
	if err != nil {
		t.Fatalf("new scratch: %v", err)
	}
	enc, err := control.NewEncoder("ws", scratch, &fixedIDs{next: 40})
	if err != nil {
		t.Fatalf("new encoder: %v", err)
	}
	return enc
}

func TestCommandFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	enc := newEncoder(t)
	cmd, id, err := enc.EncodeRoute(control.RoleClient, "ws#8080", "tcp#9090", &control.RouteEx{Protocol: "echo", Path: "/ws"})
	if err != nil {
		t.Fatalf("encode route: %v", err)
	}
	raw, err := EncodeCommandFrame(cmd, frame.DefaultLimits())
	cmd.Release()
	if err != nil {
		t.Fatalf("encode command frame: %v", err)
	}

	f, err := frame.ReadFrame(bytes.NewReader(raw), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if f.Header.CorrelationID != id || f.Header.TypeID != schema.MsgRoute {
		t.Fatalf("unexpected header: %+v", f.Header)
	}
	got, err := DecodeCommandFrame(f)
	if err != nil {
		t.Fatalf("decode command frame: %v", err)
	}
	if got.Kind != control.KindRoute || got.Role != control.RoleClient || got.LocalAddress != "ws#8080" {
		t.Fatalf("unexpected command: %+v", got)
	}
	if got.Extension == nil || got.Extension.Protocol != "echo" || got.Extension.Path != "/ws" {
		t.Fatalf("unexpected extension: %+v", got.Extension)
	}
}

func TestEncodeCommandFrameAfterRelease(t *testing.T) {
	testlog.Start(t)
	enc := newEncoder(t)
	cmd, _, err := enc.EncodeFreeze()
	if err != nil {
		t.Fatalf("encode freeze: %v", err)
	}
	cmd.Release()
	if _, err := EncodeCommandFrame(cmd, frame.DefaultLimits()); !errors.Is(err, control.ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func TestDecodeCommandFrameRejectsMismatch(t *testing.T) {
	testlog.Start(t)
	enc := newEncoder(t)
	cmd, id, err := enc.EncodeUnroute(7)
	if err != nil {
		t.Fatalf("encode unroute: %v", err)
	}
	body, _ := cmd.CopyBytes()
	cmd.Release()

	f := frame.Frame{Header: frame.Header{CorrelationID: id + 1, TypeID: schema.MsgUnroute}, Payload: body}
	if _, err := DecodeCommandFrame(f); !errors.Is(err, ErrCorrelationMismatch) {
		t.Fatalf("expected ErrCorrelationMismatch, got %v", err)
	}
	f.Header.CorrelationID = id
	f.Header.TypeID = schema.MsgFreeze
	if _, err := DecodeCommandFrame(f); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("expected ErrKindMismatch, got %v", err)
	}
	f.Header.TypeID = 0x99
	if _, err := DecodeCommandFrame(f); !errors.Is(err, control.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	f.Header.TypeID = schema.MsgUnroute
	f.Header.Flags = frame.FlagIsResponse
	if _, err := DecodeCommandFrame(f); !errors.Is(err, ErrNotCommand) {
		t.Fatalf("expected ErrNotCommand, got %v", err)
	}
}

func TestReplyFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	cases := []Reply{
		{CorrelationID: 1, TypeID: schema.MsgRouted, RouteID: 12, Nukleus: "ws"},
		{CorrelationID: 2, TypeID: schema.MsgUnrouted, RouteID: 12},
		{CorrelationID: 3, TypeID: schema.MsgFrozen, Nukleus: "ws"},
		{CorrelationID: 4, TypeID: schema.MsgError, Code: schema.CodeUnknownRoute, Message: "unknown route 9"},
	}
	for _, want := range cases {
		raw, err := EncodeReplyFrame(want, frame.DefaultLimits())
		if err != nil {
			t.Fatalf("encode reply %+v: %v", want, err)
		}
		f, err := frame.ParseFrame(raw, frame.DefaultLimits())
		if err != nil {
			t.Fatalf("parse frame: %v", err)
		}
		if !f.IsResponse() {
			t.Fatalf("reply frame missing response flag")
		}
		if f.IsError() != want.IsError() {
			t.Fatalf("error flag mismatch for %+v", want)
		}
		got, err := DecodeReplyFrame(f)
		if err != nil {
			t.Fatalf("decode reply: %v", err)
		}
		if got != want {
			t.Fatalf("reply mismatch: got %+v want %+v", got, want)
		}
	}
}

func TestEncodeReplyFrameRejectsCommandType(t *testing.T) {
	testlog.Start(t)
	if _, err := EncodeReplyFrame(Reply{CorrelationID: 1, TypeID: schema.MsgRoute}, frame.DefaultLimits()); !errors.Is(err, ErrNotReply) {
		t.Fatalf("expected ErrNotReply, got %v", err)
	}
}

func TestDecodeReplyFrameRequiresFields(t *testing.T) {
	testlog.Start(t)
	f := frame.Frame{
		Header: frame.Header{CorrelationID: 5, TypeID: schema.MsgRouted, Flags: frame.FlagIsResponse},
	}
	var verr schema.ValidationError
	if _, err := DecodeReplyFrame(f); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.FieldID != schema.FieldRouteID {
		t.Fatalf("unexpected field: %+v", verr)
	}
}

func TestDecodeReplyFrameRejectsOptionalFieldType(t *testing.T) {
	testlog.Start(t)
	f := frame.Frame{
		Header:  frame.Header{CorrelationID: 6, TypeID: schema.MsgUnrouted, Flags: frame.FlagIsResponse},
		Payload: tlv.Fields{tlv.String(schema.FieldRouteID, "9")}.Encode(),
	}
	_, err := DecodeReplyFrame(f)
	if !errors.Is(err, ErrFieldType) {
		t.Fatalf("expected ErrFieldType, got %v", err)
	}
}

func TestDecodeReplyFrameRejectsErrorMessageType(t *testing.T) {
	testlog.Start(t)
	payload := tlv.Fields{
		tlv.U32(schema.FieldErrorCode, schema.CodeRejected),
		tlv.U32(schema.FieldErrorMessage, 1),
	}.Encode()
	f := frame.Frame{
		Header:  frame.Header{CorrelationID: 7, TypeID: schema.MsgError, Flags: frame.FlagIsResponse | frame.FlagIsError},
		Payload: payload,
	}
	_, err := DecodeReplyFrame(f)
	var verr schema.ValidationError
	if !errors.Is(err, ErrFieldType) && !errors.As(err, &verr) {
		t.Fatalf("expected non-string error message to be rejected, got %v", err)
	}
}

func TestNextBackoffDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 500 * time.Millisecond}
	want := []time.Duration{100, 200, 400, 500, 500}
	for i, w := range want {
		if got := NextBackoffDelay(cfg, i+1, nil); got != w*time.Millisecond {
			t.Fatalf("attempt %d: got %s want %s", i+1, got, w*time.Millisecond)
		}
	}

	cfg.Jitter = true
	rng := rand.New(rand.NewSource(1))
	for attempt := 2; attempt < 6; attempt++ {
		got := NextBackoffDelay(cfg, attempt, rng)
		if got < 50*time.Millisecond || got > 750*time.Millisecond {
			t.Fatalf("jittered delay out of range: %s", got)
		}
	}
}

func TestBackoffStepsAndResets(t *testing.T) {
	b := NewBackoff(BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 3}, nil)
	if d := b.Next(); d != time.Millisecond {
		t.Fatalf("first delay: %s", d)
	}
	if d := b.Next(); d != 3*time.Millisecond {
		t.Fatalf("second delay: %s", d)
	}
	b.Reset()
	if b.Attempt() != 0 {
		t.Fatalf("reset did not clear attempts")
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{WriteTimeout: time.Second}.WithDefaults()
	def := DefaultConfig()
	if cfg.WriteTimeout != time.Second {
		t.Fatalf("explicit write timeout overwritten")
	}
	if cfg.ConnectTimeout != def.ConnectTimeout || cfg.Backoff != def.Backoff || cfg.Limits != def.Limits {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestValidateClientTransport(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.ValidateClientTransport(); err != nil {
		t.Fatalf("plain transport should validate: %v", err)
	}
	cfg.TLS.Mutual = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	cfg.TLS.Enabled = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}
	cfg.TLS.CAFile = "ca.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	cfg.TLS.CertFile = "client.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}
}

func TestServerTLSConfigRequiresCert(t *testing.T) {
	if _, err := DefaultConfig().ServerTLSConfig(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
}
