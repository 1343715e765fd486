// Package tlv encodes reply payloads as a flat list of typed fields.
//
// Each field is id(u16) type(u8) len(u32) value, big endian. Decoders keep
// fields they do not recognise so newer peers can add fields freely.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const HeaderLen = 7

var (
	ErrShortHeader = errors.New("tlv: short field header")
	ErrShortValue  = errors.New("tlv: short field value")
	ErrType        = errors.New("tlv: unexpected field type")
	ErrWidth       = errors.New("tlv: invalid scalar width")
)

type Type uint8

const (
	TypeU32    Type = 3
	TypeU64    Type = 4
	TypeString Type = 6
	TypeBytes  Type = 7
)

func (t Type) String() string {
	switch t {
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

type Field struct {
	ID    uint16
	Type  Type
	Value []byte
}

func U32(id uint16, v uint32) Field {
	return Field{ID: id, Type: TypeU32, Value: binary.BigEndian.AppendUint32(nil, v)}
}

func U64(id uint16, v uint64) Field {
	return Field{ID: id, Type: TypeU64, Value: binary.BigEndian.AppendUint64(nil, v)}
}

func String(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

// Fields is an ordered field list. Lookups return the first match.
type Fields []Field

// Len returns the encoded size of fs.
func (fs Fields) Len() int {
	n := 0
	for _, f := range fs {
		n += HeaderLen + len(f.Value)
	}
	return n
}

// Append encodes fs onto dst.
func (fs Fields) Append(dst []byte) []byte {
	if need := fs.Len(); cap(dst)-len(dst) < need {
		grown := make([]byte, len(dst), len(dst)+need)
		copy(grown, dst)
		dst = grown
	}
	for _, f := range fs {
		dst = binary.BigEndian.AppendUint16(dst, f.ID)
		dst = append(dst, byte(f.Type))
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.Value)))
		dst = append(dst, f.Value...)
	}
	return dst
}

func (fs Fields) Encode() []byte {
	return fs.Append(nil)
}

func (fs Fields) Get(id uint16) (Field, bool) {
	for _, f := range fs {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// U64 reads field id as a u64. ok is false when the field is absent.
func (fs Fields) U64(id uint16) (v uint64, ok bool, err error) {
	f, ok := fs.Get(id)
	if !ok {
		return 0, false, nil
	}
	if err := f.expect(TypeU64, 8); err != nil {
		return 0, true, err
	}
	return binary.BigEndian.Uint64(f.Value), true, nil
}

func (fs Fields) U32(id uint16) (v uint32, ok bool, err error) {
	f, ok := fs.Get(id)
	if !ok {
		return 0, false, nil
	}
	if err := f.expect(TypeU32, 4); err != nil {
		return 0, true, err
	}
	return binary.BigEndian.Uint32(f.Value), true, nil
}

func (fs Fields) Str(id uint16) (v string, ok bool, err error) {
	f, ok := fs.Get(id)
	if !ok {
		return "", false, nil
	}
	if err := f.expect(TypeString, -1); err != nil {
		return "", true, err
	}
	return string(f.Value), true, nil
}

func (f Field) expect(t Type, width int) error {
	if f.Type != t {
		return fmt.Errorf("%w: field %d is %s, want %s", ErrType, f.ID, f.Type, t)
	}
	if width >= 0 && len(f.Value) != width {
		return fmt.Errorf("%w: field %d has %d bytes, want %d", ErrWidth, f.ID, len(f.Value), width)
	}
	return nil
}

// Decode parses payload into fields. Values are copied out of payload.
func Decode(payload []byte) (Fields, error) {
	var fs Fields
	for rest := payload; len(rest) > 0; {
		if len(rest) < HeaderLen {
			return nil, fmt.Errorf("%w: %d bytes left", ErrShortHeader, len(rest))
		}
		id := binary.BigEndian.Uint16(rest[0:2])
		t := Type(rest[2])
		n := binary.BigEndian.Uint32(rest[3:7])
		rest = rest[HeaderLen:]
		if uint64(n) > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: field %d wants %d bytes, %d left", ErrShortValue, id, n, len(rest))
		}
		fs = append(fs, Field{ID: id, Type: t, Value: append([]byte(nil), rest[:n]...)})
		rest = rest[n:]
	}
	return fs, nil
}
