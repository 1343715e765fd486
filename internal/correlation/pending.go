package correlation

import (
	"sort"
	"time"

	"github.com/danmuck/wsctl/internal/control"
)

// PendingCommand is one row of the pending table snapshot.
type PendingCommand struct {
	CorrelationID uint64
	Kind          control.Kind
	RegisteredAt  time.Time
}

// pendingTable stores outstanding completions by correlation id. Callers hold
// the dispatcher lock.
type pendingTable struct {
	items map[uint64]*Completion
}

func newPendingTable() *pendingTable {
	return &pendingTable{items: make(map[uint64]*Completion)}
}

func (p *pendingTable) insert(c *Completion) bool {
	if _, exists := p.items[c.id]; exists {
		return false
	}
	p.items[c.id] = c
	return true
}

func (p *pendingTable) take(id uint64) (*Completion, bool) {
	c, ok := p.items[id]
	if ok {
		delete(p.items, id)
	}
	return c, ok
}

func (p *pendingTable) drain() []*Completion {
	out := make([]*Completion, 0, len(p.items))
	for id, c := range p.items {
		out = append(out, c)
		delete(p.items, id)
	}
	return out
}

func (p *pendingTable) len() int {
	return len(p.items)
}

func (p *pendingTable) list() []PendingCommand {
	out := make([]PendingCommand, 0, len(p.items))
	for _, c := range p.items {
		out = append(out, PendingCommand{
			CorrelationID: c.id,
			Kind:          c.kind,
			RegisteredAt:  c.registeredAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CorrelationID < out[j].CorrelationID
	})
	return out
}
