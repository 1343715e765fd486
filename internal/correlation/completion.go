package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/wsctl/internal/control"
)

type State int32

const (
	StatePending State = iota
	StateSucceeded
	StateFailed
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Reply is a transport-neutral reply keyed by correlation id. A nil Err is a
// success reply and Kind names the command it answers.
type Reply struct {
	CorrelationID uint64
	Kind          control.Kind
	RouteID       uint64
	Nukleus       string
	Err           *ReplyError
}

// Result is the payload of a success reply. RouteID is set for ROUTE and
// UNROUTE.
type Result struct {
	RouteID uint64
	Nukleus string
}

// Completion is the caller's handle on one submitted command.
type Completion struct {
	id           uint64
	kind         control.Kind
	registeredAt time.Time
	owner        *Dispatcher

	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	state  State
	result Result
	err    error
}

func newCompletion(owner *Dispatcher, id uint64, kind control.Kind, at time.Time) *Completion {
	return &Completion{
		id:           id,
		kind:         kind,
		registeredAt: at,
		owner:        owner,
		done:         make(chan struct{}),
	}
}

func (c *Completion) ID() uint64 {
	return c.id
}

func (c *Completion) Kind() control.Kind {
	return c.kind
}

// Done is closed once the completion leaves StatePending.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

func (c *Completion) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wait blocks until the completion resolves or ctx ends. A ctx error leaves
// the completion registered; call Abandon to release it.
func (c *Completion) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.result, c.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Abandon releases the registered slot. A later reply for this id is treated
// as unknown.
func (c *Completion) Abandon() bool {
	if c.owner == nil {
		return c.finish(StateAbandoned, Result{}, &abandonError{})
	}
	return c.owner.Abandon(c.id)
}

// finish moves the completion to a terminal state. Only the first call wins.
func (c *Completion) finish(state State, result Result, err error) bool {
	won := false
	c.once.Do(func() {
		c.mu.Lock()
		c.state = state
		c.result = result
		c.err = err
		c.mu.Unlock()
		close(c.done)
		won = true
	})
	return won
}
