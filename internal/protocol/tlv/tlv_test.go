package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeKeepsUnknownFields(t *testing.T) {
	in := Fields{
		U64(1, 42),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}},
		String(2, "ws"),
	}
	b := in.Encode()
	if len(b) != in.Len() {
		t.Fatalf("encoded %d bytes, Len says %d", len(b), in.Len())
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(out))
	}
	if v, ok, err := out.U64(1); !ok || err != nil || v != 42 {
		t.Fatalf("u64 field: %d ok=%v err=%v", v, ok, err)
	}
	if s, ok, err := out.Str(2); !ok || err != nil || s != "ws" {
		t.Fatalf("string field: %q ok=%v err=%v", s, ok, err)
	}
	unknown, ok := out.Get(9999)
	if !ok || unknown.Type != TypeBytes || !bytes.Equal(unknown.Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", unknown)
	}
}

func TestDecodeCopiesValues(t *testing.T) {
	b := Fields{String(1, "abc")}.Encode()
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b[len(b)-1] = 'z'
	if s, _, _ := out.Str(1); s != "abc" {
		t.Fatalf("decoded value aliases payload: %q", s)
	}
}

func TestAppendKeepsPrefix(t *testing.T) {
	out := Fields{U32(7, 1)}.Append([]byte{0xFF})
	if out[0] != 0xFF || len(out) != 1+HeaderLen+4 {
		t.Fatalf("append lost prefix: %x", out)
	}
}

func TestDecodeShortInput(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
	// id=1 type=string len=5 with only 2 value bytes
	payload := []byte{0, 1, byte(TypeString), 0, 0, 0, 5, 'a', 'b'}
	if _, err := Decode(payload); !errors.Is(err, ErrShortValue) {
		t.Fatalf("expected ErrShortValue, got %v", err)
	}
}

func TestTypedAccessors(t *testing.T) {
	fs := Fields{
		String(1, "7"),
		{ID: 2, Type: TypeU32, Value: []byte{1}},
	}
	if _, ok, err := fs.U32(1); !ok || !errors.Is(err, ErrType) {
		t.Fatalf("expected ErrType, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := fs.U32(2); !ok || !errors.Is(err, ErrWidth) {
		t.Fatalf("expected ErrWidth, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := fs.U64(3); ok || err != nil {
		t.Fatalf("absent field: ok=%v err=%v", ok, err)
	}
}
