package nukleus

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/wsctl/internal/control"
	"github.com/danmuck/wsctl/internal/observability"
	"github.com/danmuck/wsctl/internal/protocol/frame"
	"github.com/danmuck/wsctl/internal/protocol/schema"
	"github.com/danmuck/wsctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Route is one binding held by a Node.
type Route struct {
	ID        uint64           `json:"route_id"`
	Role      string           `json:"role"`
	Local     string           `json:"local"`
	Remote    string           `json:"remote,omitempty"`
	Extension *control.RouteEx `json:"extension,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Status summarizes a Node for the admin surface.
type Status struct {
	Name    string `json:"name"`
	Frozen  bool   `json:"frozen"`
	Routes  int    `json:"routes"`
	Handled uint64 `json:"handled"`
}

// Node answers control commands addressed to one nukleus name.
type Node struct {
	name string
	now  func() time.Time

	mu        sync.Mutex
	nextRoute uint64
	routes    map[uint64]Route
	frozen    bool
	handled   uint64
}

func NewNode(name string) *Node {
	return &Node{
		name:   strings.TrimSpace(name),
		now:    time.Now,
		routes: make(map[uint64]Route),
	}
}

func (n *Node) Name() string {
	return n.name
}

// Handle applies cmd and returns the reply to send back. Route ids start at 1.
func (n *Node) Handle(cmd control.Command) session.Reply {
	reply := n.apply(cmd)
	reply.CorrelationID = cmd.CorrelationID
	observability.RecordNukleusCommand(n.name, cmd.Kind.String(), !reply.IsError())
	log.Debug().
		Str("nukleus", n.name).
		Str("kind", cmd.Kind.String()).
		Uint64("correlation_id", cmd.CorrelationID).
		Uint32("reply_type", reply.TypeID).
		Uint64("route_id", reply.RouteID).
		Msg("nukleus.Node handled")
	return reply
}

// HandleFrame decodes f and applies it. Undecodable commands get a
// CodeMalformed reply under the frame's correlation id.
func (n *Node) HandleFrame(f frame.Frame) session.Reply {
	cmd, err := session.DecodeCommandFrame(f)
	if err != nil {
		log.Warn().Err(err).Str("nukleus", n.name).Uint64("correlation_id", f.Header.CorrelationID).Msg("nukleus.Node malformed command")
		observability.RecordNukleusCommand(n.name, "MALFORMED", false)
		return errorReply(f.Header.CorrelationID, schema.CodeMalformed, err.Error())
	}
	return n.Handle(cmd)
}

func (n *Node) apply(cmd control.Command) session.Reply {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handled++

	if cmd.Nukleus != n.name {
		return errorReply(0, schema.CodeUnknownNukleus, fmt.Sprintf("unknown nukleus %q", cmd.Nukleus))
	}
	if cmd.Kind == control.KindFreeze {
		n.frozen = true
		return session.Reply{TypeID: schema.MsgFrozen, Nukleus: n.name}
	}
	if n.frozen {
		return errorReply(0, schema.CodeFrozen, fmt.Sprintf("nukleus %q is frozen", n.name))
	}

	switch cmd.Kind {
	case control.KindRoute:
		n.nextRoute++
		r := Route{
			ID:        n.nextRoute,
			Role:      strings.ToLower(cmd.Role.String()),
			Local:     cmd.LocalAddress,
			Remote:    cmd.RemoteAddress,
			Extension: cmd.Extension,
			CreatedAt: n.now(),
		}
		n.routes[r.ID] = r
		return session.Reply{TypeID: schema.MsgRouted, RouteID: r.ID, Nukleus: n.name}
	case control.KindUnroute:
		if _, ok := n.routes[cmd.RouteID]; !ok {
			return errorReply(0, schema.CodeUnknownRoute, fmt.Sprintf("unknown route %d", cmd.RouteID))
		}
		delete(n.routes, cmd.RouteID)
		return session.Reply{TypeID: schema.MsgUnrouted, RouteID: cmd.RouteID, Nukleus: n.name}
	default:
		return errorReply(0, schema.CodeRejected, fmt.Sprintf("unsupported command %s", cmd.Kind))
	}
}

func (n *Node) Routes() []Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Route, 0, len(n.routes))
	for _, r := range n.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Status{Name: n.name, Frozen: n.frozen, Routes: len(n.routes), Handled: n.handled}
}

func errorReply(correlationID uint64, code uint32, msg string) session.Reply {
	return session.Reply{CorrelationID: correlationID, TypeID: schema.MsgError, Code: code, Message: msg}
}

// replyBytes runs f through n and encodes the reply frame.
func replyBytes(n *Node, f frame.Frame, limits frame.Limits) ([]byte, error) {
	return session.EncodeReplyFrame(n.HandleFrame(f), limits)
}
