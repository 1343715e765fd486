package session

import (
	"errors"
	"fmt"

	"github.com/danmuck/wsctl/internal/control"
	"github.com/danmuck/wsctl/internal/protocol/frame"
	"github.com/danmuck/wsctl/internal/protocol/schema"
	"github.com/danmuck/wsctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotCommand          = errors.New("session: frame is not a command")
	ErrNotReply            = errors.New("session: frame is not a reply")
	ErrCorrelationMismatch = errors.New("session: record correlation id does not match frame")
	ErrKindMismatch        = errors.New("session: record kind does not match frame type")
	ErrFieldType           = errors.New("session: reply field has unexpected type")
)

// Reply is the decoded form of one reply frame.
type Reply struct {
	CorrelationID uint64
	TypeID        uint32
	RouteID       uint64
	Nukleus       string
	Code          uint32
	Message       string
}

func (r Reply) IsError() bool {
	return r.TypeID == schema.MsgError
}

// EncodeCommandFrame copies an encoded record out of the scratch region into
// a standalone frame. The caller may release cmd once this returns.
func EncodeCommandFrame(cmd *control.Encoded, limits frame.Limits) ([]byte, error) {
	body := cmd.Bytes()
	if body == nil {
		return nil, control.ErrReleased
	}
	f := frame.Frame{
		Header: frame.Header{
			CorrelationID: cmd.CorrelationID(),
			TypeID:        cmd.TypeID(),
		},
		Payload: body,
	}
	out, err := frame.AppendFrame(make([]byte, 0, int(frame.FixedHeaderLen)+len(body)), f, limits)
	if err != nil {
		log.Error().Err(err).Uint64("correlation_id", cmd.CorrelationID()).Msg("session.EncodeCommandFrame failed")
		return nil, err
	}
	return out, nil
}

// DecodeCommandFrame decodes the control record in f and checks that it
// agrees with the frame header.
func DecodeCommandFrame(f frame.Frame) (control.Command, error) {
	if f.IsResponse() {
		return control.Command{}, ErrNotCommand
	}
	kind, ok := control.KindFromTypeID(f.Header.TypeID)
	if !ok {
		return control.Command{}, fmt.Errorf("%w: type %#x", control.ErrUnknownKind, f.Header.TypeID)
	}
	cmd, err := control.Decode(f.Payload)
	if err != nil {
		return control.Command{}, err
	}
	if cmd.Kind != kind {
		return control.Command{}, fmt.Errorf("%w: frame %s record %s", ErrKindMismatch, kind, cmd.Kind)
	}
	if cmd.CorrelationID != f.Header.CorrelationID {
		return control.Command{}, fmt.Errorf("%w: frame %d record %d", ErrCorrelationMismatch, f.Header.CorrelationID, cmd.CorrelationID)
	}
	return cmd, nil
}

func EncodeReplyFrame(r Reply, limits frame.Limits) ([]byte, error) {
	if !schema.IsReply(r.TypeID) {
		return nil, fmt.Errorf("%w: type %#x", ErrNotReply, r.TypeID)
	}
	flags := frame.FlagIsResponse
	fields := make(tlv.Fields, 0, 3)
	switch r.TypeID {
	case schema.MsgRouted:
		fields = append(fields, tlv.U64(schema.FieldRouteID, r.RouteID))
	case schema.MsgUnrouted:
		fields = append(fields, tlv.U64(schema.FieldRouteID, r.RouteID))
	case schema.MsgError:
		flags |= frame.FlagIsError
		fields = append(fields,
			tlv.U32(schema.FieldErrorCode, r.Code),
			tlv.String(schema.FieldErrorMessage, r.Message),
		)
	}
	if r.Nukleus != "" {
		fields = append(fields, tlv.String(schema.FieldNukleus, r.Nukleus))
	}
	if err := schema.Validate(r.TypeID, fields); err != nil {
		return nil, err
	}
	return frame.AppendFrame(nil, frame.Frame{
		Header: frame.Header{
			CorrelationID: r.CorrelationID,
			TypeID:        r.TypeID,
			Flags:         flags,
		},
		Payload: fields.Encode(),
	}, limits)
}

func DecodeReplyFrame(f frame.Frame) (Reply, error) {
	if !f.IsResponse() || !schema.IsReply(f.Header.TypeID) {
		return Reply{}, ErrNotReply
	}
	fields, err := tlv.Decode(f.Payload)
	if err != nil {
		return Reply{}, err
	}
	if err := schema.Validate(f.Header.TypeID, fields); err != nil {
		return Reply{}, err
	}

	r := Reply{CorrelationID: f.Header.CorrelationID, TypeID: f.Header.TypeID}
	if r.RouteID, _, err = fields.U64(schema.FieldRouteID); err != nil {
		return Reply{}, fmt.Errorf("%w: route_id: %v", ErrFieldType, err)
	}
	if r.Nukleus, _, err = fields.Str(schema.FieldNukleus); err != nil {
		return Reply{}, fmt.Errorf("%w: nukleus: %v", ErrFieldType, err)
	}
	if r.TypeID == schema.MsgError {
		if r.Code, _, err = fields.U32(schema.FieldErrorCode); err != nil {
			return Reply{}, fmt.Errorf("%w: error_code: %v", ErrFieldType, err)
		}
		if r.Message, _, err = fields.Str(schema.FieldErrorMessage); err != nil {
			return Reply{}, fmt.Errorf("%w: error_message: %v", ErrFieldType, err)
		}
	}
	return r, nil
}
