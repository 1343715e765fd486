package schema

import (
	"fmt"

	"github.com/danmuck/wsctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Command type ids match control.Kind values.
const (
	MsgRoute   uint32 = 0x00000001
	MsgUnroute uint32 = 0x00000002
	MsgFreeze  uint32 = 0x00000003
)

// Reply type ids.
const (
	MsgError    uint32 = 0x40000000
	MsgRouted   uint32 = 0x40000001
	MsgUnrouted uint32 = 0x40000002
	MsgFrozen   uint32 = 0x40000003
)

// Reply field ids.
const (
	FieldRouteID      uint16 = 1
	FieldNukleus      uint16 = 2
	FieldErrorCode    uint16 = 100
	FieldErrorMessage uint16 = 101
)

// Error codes carried in MsgError replies.
const (
	CodeUnknownNukleus uint32 = 1
	CodeUnknownRoute   uint32 = 2
	CodeFrozen         uint32 = 3
	CodeMalformed      uint32 = 4
	CodeRejected       uint32 = 5
)

// ReplyTypeFor returns the success reply type for a command type.
func ReplyTypeFor(commandType uint32) (uint32, bool) {
	switch commandType {
	case MsgRoute:
		return MsgRouted, true
	case MsgUnroute:
		return MsgUnrouted, true
	case MsgFreeze:
		return MsgFrozen, true
	default:
		return 0, false
	}
}

// CommandTypeFor returns the command type answered by a success reply type.
func CommandTypeFor(replyType uint32) (uint32, bool) {
	switch replyType {
	case MsgRouted:
		return MsgRoute, true
	case MsgUnrouted:
		return MsgUnroute, true
	case MsgFrozen:
		return MsgFreeze, true
	default:
		return 0, false
	}
}

// IsReply reports whether typeID is a reply type.
func IsReply(typeID uint32) bool {
	return typeID&0x40000000 != 0
}

type Requirement struct {
	ID   uint16
	Type tlv.Type
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%#x: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%#x field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgRouted: {
		{FieldRouteID, tlv.TypeU64},
	},
	MsgUnrouted: {},
	MsgFrozen:   {},
	MsgError: {
		{FieldErrorCode, tlv.TypeU32},
		{FieldErrorMessage, tlv.TypeString},
	},
}

// Validate enforces required fields and required field types for a reply type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields tlv.Fields) error {
	log.Trace().Uint32("message_type", messageType).Int("fields", len(fields)).Msg("schema.Validate")
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := fields.Get(req.ID)
		if !found {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Stringer("got", f.Type).
				Stringer("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
