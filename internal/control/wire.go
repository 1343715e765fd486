package control

import "encoding/binary"

const (
	maxNukleusLen = 0xFF
	maxStringLen  = 0xFFFF
)

// writer fills a region whose size was checked up front.
type writer struct {
	b   []byte
	off int
}

func (w *writer) u8(v uint8) {
	w.b[w.off] = v
	w.off++
}

func (w *writer) u16(v uint16) {
	binary.BigEndian.PutUint16(w.b[w.off:w.off+2], v)
	w.off += 2
}

func (w *writer) u64(v uint64) {
	binary.BigEndian.PutUint64(w.b[w.off:w.off+8], v)
	w.off += 8
}

func (w *writer) string8(s string) {
	w.u8(uint8(len(s)))
	w.off += copy(w.b[w.off:], s)
}

func (w *writer) string16(s string) {
	w.u16(uint16(len(s)))
	w.off += copy(w.b[w.off:], s)
}

// reader records the first short read and returns zero values after it.
type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if len(r.b)-r.off < n {
		r.err = ErrTruncated
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.b[r.off : r.off+2])
	r.off += 2
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.b[r.off : r.off+8])
	r.off += 8
	return v
}

func (r *reader) raw(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) string8() string {
	n := int(r.u8())
	return string(r.raw(n))
}

func (r *reader) string16() string {
	n := int(r.u16())
	return string(r.raw(n))
}

func (r *reader) remaining() int {
	return len(r.b) - r.off
}

func sizeString8(s string) int  { return 1 + len(s) }
func sizeString16(s string) int { return 2 + len(s) }
