package control

import (
	"fmt"
	"strings"
)

// Kind tags the command variant. The value doubles as the transport type id.
type Kind uint8

const (
	KindRoute   Kind = 1
	KindUnroute Kind = 2
	KindFreeze  Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindRoute:
		return "ROUTE"
	case KindUnroute:
		return "UNROUTE"
	case KindFreeze:
		return "FREEZE"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

func (k Kind) TypeID() uint32 {
	return uint32(k)
}

func (k Kind) Valid() bool {
	return k == KindRoute || k == KindUnroute || k == KindFreeze
}

// KindFromTypeID maps a transport type id back to a command kind.
func KindFromTypeID(typeID uint32) (Kind, bool) {
	if typeID > 0xFF {
		return 0, false
	}
	k := Kind(typeID)
	return k, k.Valid()
}

// Role discriminates server and client route bindings.
type Role uint8

const (
	RoleServer Role = 0
	RoleClient Role = 1
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	default:
		return fmt.Sprintf("ROLE(%d)", uint8(r))
	}
}

func (r Role) Valid() bool {
	return r == RoleServer || r == RoleClient
}

func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "server":
		return RoleServer, nil
	case "client":
		return RoleClient, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidField, raw)
	}
}

// Command is the decoded form of one control record.
type Command struct {
	Kind          Kind
	CorrelationID uint64
	Nukleus       string

	// ROUTE
	Role          Role
	LocalAddress  string
	RemoteAddress string
	Extension     *RouteEx

	// UNROUTE
	RouteID uint64
}

func headerSize(nukleus string) int {
	return 8 + sizeString8(nukleus) + 1
}

func routeSize(nukleus, local, remote string, ex *RouteEx) int {
	size := headerSize(nukleus) + 1 + sizeString16(local) + sizeString16(remote) + 2
	if ex != nil {
		size += ex.Sizeof()
	}
	return size
}

// Decode parses one control record produced by an Encoder.
func Decode(b []byte) (Command, error) {
	r := reader{b: b}
	cmd := Command{
		CorrelationID: r.u64(),
		Nukleus:       r.string8(),
		Kind:          Kind(r.u8()),
	}
	if r.err != nil {
		return Command{}, r.err
	}

	switch cmd.Kind {
	case KindRoute:
		cmd.Role = Role(r.u8())
		cmd.LocalAddress = r.string16()
		cmd.RemoteAddress = r.string16()
		extLen := int(r.u16())
		extBytes := r.raw(extLen)
		if r.err != nil {
			return Command{}, r.err
		}
		if !cmd.Role.Valid() {
			return Command{}, fmt.Errorf("%w: role %d", ErrInvalidField, cmd.Role)
		}
		if extLen > 0 {
			ex, err := DecodeRouteEx(extBytes)
			if err != nil {
				return Command{}, err
			}
			cmd.Extension = &ex
		}
	case KindUnroute:
		cmd.RouteID = r.u64()
		if r.err != nil {
			return Command{}, r.err
		}
	case KindFreeze:
	default:
		return Command{}, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(cmd.Kind))
	}

	if r.remaining() != 0 {
		return Command{}, fmt.Errorf("%w: %d trailing bytes", ErrInvalidLength, r.remaining())
	}
	return cmd, nil
}
