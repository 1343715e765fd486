package control

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// IDSource hands out correlation ids.
type IDSource interface {
	NextID() uint64
}

// Encoded describes one command staged in the scratch region. Bytes stays
// valid until Release; the next encode call cannot start before that.
type Encoded struct {
	kind          Kind
	correlationID uint64
	lease         *Lease
	n             int
}

func (c *Encoded) Kind() Kind {
	return c.kind
}

func (c *Encoded) TypeID() uint32 {
	return c.kind.TypeID()
}

func (c *Encoded) CorrelationID() uint64 {
	return c.correlationID
}

func (c *Encoded) Len() int {
	return c.n
}

// Bytes returns the encoded range [0, Len) of the scratch region, or nil
// after Release.
func (c *Encoded) Bytes() []byte {
	buf := c.lease.Bytes()
	if buf == nil {
		return nil
	}
	return buf[:c.n:c.n]
}

// CopyBytes returns a detached copy of the encoded range.
func (c *Encoded) CopyBytes() ([]byte, error) {
	buf := c.Bytes()
	if buf == nil {
		return nil, ErrReleased
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func (c *Encoded) Release() {
	c.lease.Release()
}

// Encoder builds ROUTE, UNROUTE and FREEZE records for one nukleus.
type Encoder struct {
	nukleus string
	scratch *Scratch
	ids     IDSource
}

func NewEncoder(nukleus string, scratch *Scratch, ids IDSource) (*Encoder, error) {
	if err := validateNukleus(nukleus); err != nil {
		return nil, err
	}
	if scratch == nil {
		return nil, errors.New("control: scratch required")
	}
	if ids == nil {
		return nil, errors.New("control: id source required")
	}
	return &Encoder{nukleus: nukleus, scratch: scratch, ids: ids}, nil
}

func (e *Encoder) Nukleus() string {
	return e.nukleus
}

func (e *Encoder) Capacity() int {
	return e.scratch.Capacity()
}

// EncodeRoute stages a ROUTE command. ex may be nil for no extension.
func (e *Encoder) EncodeRoute(role Role, local, remote string, ex *RouteEx) (*Encoded, uint64, error) {
	if !role.Valid() {
		return nil, 0, fmt.Errorf("%w: role %d", ErrInvalidField, role)
	}
	if strings.TrimSpace(local) == "" {
		return nil, 0, fmt.Errorf("%w: local address required", ErrInvalidField)
	}
	if len(local) > maxStringLen {
		return nil, 0, fmt.Errorf("%w: local address exceeds %d bytes", ErrInvalidField, maxStringLen)
	}
	if len(remote) > maxStringLen {
		return nil, 0, fmt.Errorf("%w: remote address exceeds %d bytes", ErrInvalidField, maxStringLen)
	}
	if ex != nil {
		if err := ex.validate(); err != nil {
			return nil, 0, err
		}
		if ex.Sizeof() > maxStringLen {
			return nil, 0, fmt.Errorf("%w: route extension exceeds %d bytes", ErrInvalidField, maxStringLen)
		}
	}

	size := routeSize(e.nukleus, local, remote, ex)
	return e.encode(KindRoute, size, func(w *writer) error {
		w.u8(uint8(role))
		w.string16(local)
		w.string16(remote)
		if ex == nil {
			w.u16(0)
			return nil
		}
		lenAt := w.off
		w.u16(0)
		n, err := EncodeRouteEx(w.b[w.off:], *ex)
		if err != nil {
			return err
		}
		w.off += n
		pw := writer{b: w.b, off: lenAt}
		pw.u16(uint16(n))
		return nil
	})
}

func (e *Encoder) EncodeUnroute(routeID uint64) (*Encoded, uint64, error) {
	size := headerSize(e.nukleus) + 8
	return e.encode(KindUnroute, size, func(w *writer) error {
		w.u64(routeID)
		return nil
	})
}

func (e *Encoder) EncodeFreeze() (*Encoded, uint64, error) {
	return e.encode(KindFreeze, headerSize(e.nukleus), func(*writer) error {
		return nil
	})
}

func (e *Encoder) encode(kind Kind, size int, body func(*writer) error) (*Encoded, uint64, error) {
	id := e.ids.NextID()
	lease := e.scratch.Acquire()

	buf := lease.Bytes()
	if size > len(buf) {
		lease.Release()
		log.Warn().
			Str("kind", kind.String()).
			Uint64("correlation_id", id).
			Int("size", size).
			Int("capacity", len(buf)).
			Msg("control.Encoder overflow")
		return nil, 0, fmt.Errorf("%w: %s needs %d bytes, capacity %d", ErrEncodingOverflow, kind, size, len(buf))
	}

	w := &writer{b: buf[:size]}
	w.u64(id)
	w.string8(e.nukleus)
	w.u8(uint8(kind))
	if err := body(w); err != nil {
		lease.Release()
		return nil, 0, err
	}

	log.Debug().
		Str("kind", kind.String()).
		Uint64("correlation_id", id).
		Int("size", w.off).
		Msg("control.Encoder encoded")
	return &Encoded{kind: kind, correlationID: id, lease: lease, n: w.off}, id, nil
}

func validateNukleus(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: nukleus name required", ErrInvalidField)
	}
	if len(name) > maxNukleusLen {
		return fmt.Errorf("%w: nukleus name exceeds %d bytes", ErrInvalidField, maxNukleusLen)
	}
	return nil
}
