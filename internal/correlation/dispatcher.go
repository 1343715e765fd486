package correlation

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/wsctl/internal/control"
	"github.com/danmuck/wsctl/internal/observability"
	"github.com/rs/zerolog/log"
)

// Dispatcher allocates correlation ids and routes replies to the completion
// registered under the same id. It satisfies control.IDSource.
type Dispatcher struct {
	next atomic.Uint64
	now  func() time.Time

	mu      sync.Mutex
	pending *pendingTable
	closed  bool
}

type Option func(*Dispatcher)

// WithSeed starts the id counter at seed; the first id is seed+1.
func WithSeed(seed uint64) Option {
	return func(d *Dispatcher) {
		d.next.Store(seed)
	}
}

// WithClock overrides the registration timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		now:     time.Now,
		pending: newPendingTable(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NextID returns a strictly increasing id. Ids are never reused, including
// ids consumed by commands that failed to encode.
func (d *Dispatcher) NextID() uint64 {
	return d.next.Add(1)
}

func (d *Dispatcher) Register(id uint64, kind control.Kind) (*Completion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDispatcherClosed
	}
	c := newCompletion(d, id, kind, d.now())
	if !d.pending.insert(c) {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateCorrelation, id)
	}
	observability.AddPending(1)
	log.Debug().Uint64("correlation_id", id).Str("kind", kind.String()).Msg("correlation.Register")
	return c, nil
}

// Resolve completes the command registered under r.CorrelationID. Replies for
// ids that are not pending are logged and discarded. A success reply for a
// different command kind fails the completion with ErrKindMismatch.
func (d *Dispatcher) Resolve(r Reply) error {
	d.mu.Lock()
	c, ok := d.pending.take(r.CorrelationID)
	d.mu.Unlock()
	if !ok {
		observability.RecordUnknownCorrelation()
		log.Warn().Uint64("correlation_id", r.CorrelationID).Msg("correlation.Resolve unknown correlation id")
		return fmt.Errorf("%w: %d", ErrUnknownCorrelation, r.CorrelationID)
	}
	observability.AddPending(-1)

	if r.Err != nil {
		c.finish(StateFailed, Result{}, r.Err)
		observability.RecordReply(StateFailed.String())
		log.Debug().
			Uint64("correlation_id", r.CorrelationID).
			Str("kind", c.kind.String()).
			Uint32("code", r.Err.Code).
			Str("message", r.Err.Message).
			Msg("correlation.Resolve failure")
		return nil
	}
	if r.Kind != c.kind {
		err := fmt.Errorf("%w: %d is %s, reply answers %s", ErrKindMismatch, r.CorrelationID, c.kind, r.Kind)
		c.finish(StateFailed, Result{}, err)
		observability.RecordReply(StateFailed.String())
		log.Warn().
			Uint64("correlation_id", r.CorrelationID).
			Str("kind", c.kind.String()).
			Str("reply_kind", r.Kind.String()).
			Msg("correlation.Resolve kind mismatch")
		return err
	}
	c.finish(StateSucceeded, Result{RouteID: r.RouteID, Nukleus: r.Nukleus}, nil)
	observability.RecordReply(StateSucceeded.String())
	log.Debug().
		Uint64("correlation_id", r.CorrelationID).
		Str("kind", c.kind.String()).
		Uint64("route_id", r.RouteID).
		Msg("correlation.Resolve success")
	return nil
}

// Abandon releases id without a reply. It reports whether id was pending.
func (d *Dispatcher) Abandon(id uint64) bool {
	return d.abandon(id, nil)
}

func (d *Dispatcher) abandon(id uint64, cause error) bool {
	d.mu.Lock()
	c, ok := d.pending.take(id)
	d.mu.Unlock()
	if !ok {
		return false
	}
	observability.AddPending(-1)
	c.finish(StateAbandoned, Result{}, &abandonError{cause: cause})
	observability.RecordReply(StateAbandoned.String())
	log.Debug().Uint64("correlation_id", id).Msg("correlation.Abandon")
	return true
}

// AbandonAll fails every pending completion with ErrAbandoned wrapping cause.
func (d *Dispatcher) AbandonAll(cause error) {
	d.mu.Lock()
	drained := d.pending.drain()
	d.mu.Unlock()
	if len(drained) == 0 {
		return
	}
	observability.AddPending(-len(drained))
	for _, c := range drained {
		c.finish(StateAbandoned, Result{}, &abandonError{cause: cause})
		observability.RecordReply(StateAbandoned.String())
	}
	log.Info().Err(cause).Int("count", len(drained)).Msg("correlation.AbandonAll")
}

// Close abandons everything pending and rejects further registrations.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	d.AbandonAll(ErrDispatcherClosed)
}

func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending.len()
}

// Pending returns a snapshot of the pending table sorted by id.
func (d *Dispatcher) Pending() []PendingCommand {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending.list()
}

// IsAbandoned reports whether err came from an abandoned completion.
func IsAbandoned(err error) bool {
	return errors.Is(err, ErrAbandoned)
}
