package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/wsctl/internal/control"
	"github.com/danmuck/wsctl/internal/correlation"
	"github.com/danmuck/wsctl/internal/observability"
	"github.com/danmuck/wsctl/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultNukleus = "ws"
	Kind           = "ws.controller"
)

var (
	ErrControllerClosed  = errors.New("controller: closed")
	ErrTransportRequired = errors.New("controller: transport required")
	ErrDispatcherNeeded  = errors.New("controller: dispatcher required")
)

type Config struct {
	Nukleus         string
	ScratchCapacity int
	// InstanceID tags log lines; generated when empty.
	InstanceID string
}

func DefaultConfig() Config {
	return Config{
		Nukleus:         DefaultNukleus,
		ScratchCapacity: control.DefaultScratchCapacity,
	}
}

// Controller encodes commands for one nukleus and submits them on one
// transport. It is safe for concurrent use; commands are serialized through a
// single scratch region.
type Controller struct {
	cfg        Config
	transport  transport.Transport
	dispatcher *correlation.Dispatcher
	encoder    *control.Encoder
	logger     zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// New wires a controller. The dispatcher must be the Sink the transport was
// built with, so replies resolve the completions registered here.
func New(cfg Config, t transport.Transport, d *correlation.Dispatcher) (*Controller, error) {
	if t == nil {
		return nil, ErrTransportRequired
	}
	if d == nil {
		return nil, ErrDispatcherNeeded
	}
	if strings.TrimSpace(cfg.Nukleus) == "" {
		cfg.Nukleus = DefaultNukleus
	}
	if cfg.ScratchCapacity == 0 {
		cfg.ScratchCapacity = control.DefaultScratchCapacity
	}
	if strings.TrimSpace(cfg.InstanceID) == "" {
		cfg.InstanceID = uuid.NewString()
	}

	scratch, err := control.NewScratch(cfg.ScratchCapacity)
	if err != nil {
		return nil, err
	}
	enc, err := control.NewEncoder(cfg.Nukleus, scratch, d)
	if err != nil {
		return nil, err
	}
	logger := log.Logger.With().Str("controller", cfg.InstanceID).Str("nukleus", cfg.Nukleus).Logger()
	logger.Info().Int("scratch_capacity", cfg.ScratchCapacity).Msg("controller.New")
	return &Controller{
		cfg:        cfg,
		transport:  t,
		dispatcher: d,
		encoder:    enc,
		logger:     logger,
	}, nil
}

func (c *Controller) Name() string {
	return c.cfg.Nukleus
}

func (c *Controller) Kind() string {
	return Kind
}

func (c *Controller) InstanceID() string {
	return c.cfg.InstanceID
}

func (c *Controller) RouteServer(ctx context.Context, local, remote string) (*RouteHandle, error) {
	return c.route(ctx, control.RoleServer, local, remote, nil)
}

func (c *Controller) RouteServerEx(ctx context.Context, local, remote string, ex control.RouteEx) (*RouteHandle, error) {
	return c.route(ctx, control.RoleServer, local, remote, &ex)
}

func (c *Controller) RouteClient(ctx context.Context, local, remote string) (*RouteHandle, error) {
	return c.route(ctx, control.RoleClient, local, remote, nil)
}

func (c *Controller) RouteClientEx(ctx context.Context, local, remote string, ex control.RouteEx) (*RouteHandle, error) {
	return c.route(ctx, control.RoleClient, local, remote, &ex)
}

func (c *Controller) Unroute(ctx context.Context, routeID uint64) (*correlation.Completion, error) {
	return c.submit(ctx, control.KindUnroute, func() (*control.Encoded, uint64, error) {
		return c.encoder.EncodeUnroute(routeID)
	})
}

func (c *Controller) Freeze(ctx context.Context) (*correlation.Completion, error) {
	return c.submit(ctx, control.KindFreeze, c.encoder.EncodeFreeze)
}

// Pending lists commands still awaiting a reply.
func (c *Controller) Pending() []correlation.PendingCommand {
	return c.dispatcher.Pending()
}

// Close abandons pending completions with ErrControllerClosed and closes the
// transport.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.dispatcher.AbandonAll(ErrControllerClosed)
	err := c.transport.Close()
	c.logger.Info().Err(err).Msg("controller.Close")
	return err
}

func (c *Controller) route(ctx context.Context, role control.Role, local, remote string, ex *control.RouteEx) (*RouteHandle, error) {
	comp, err := c.submit(ctx, control.KindRoute, func() (*control.Encoded, uint64, error) {
		return c.encoder.EncodeRoute(role, local, remote, ex)
	})
	if err != nil {
		return nil, err
	}
	return &RouteHandle{completion: comp}, nil
}

// submit runs encode, register and submit as one critical section. The
// scratch region is released before it returns on every path.
func (c *Controller) submit(ctx context.Context, kind control.Kind, encode func() (*control.Encoded, uint64, error)) (*correlation.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrControllerClosed
	}

	cmd, id, err := encode()
	if err != nil {
		observability.RecordCommandFailure(c.cfg.Nukleus, kind.String(), "encode")
		c.logger.Warn().Err(err).Str("kind", kind.String()).Msg("controller.submit encode failed")
		return nil, err
	}
	defer cmd.Release()

	comp, err := c.dispatcher.Register(id, kind)
	if err != nil {
		observability.RecordCommandFailure(c.cfg.Nukleus, kind.String(), "register")
		return nil, err
	}
	if err := c.transport.Submit(ctx, cmd); err != nil {
		c.dispatcher.Abandon(id)
		observability.RecordCommandFailure(c.cfg.Nukleus, kind.String(), "submit")
		c.logger.Warn().Err(err).Str("kind", kind.String()).Uint64("correlation_id", id).Msg("controller.submit transport failed")
		return nil, fmt.Errorf("controller: submit %s: %w", kind, err)
	}

	observability.RecordCommandEncoded(c.cfg.Nukleus, kind.String())
	c.logger.Debug().Str("kind", kind.String()).Uint64("correlation_id", id).Int("bytes", cmd.Len()).Msg("controller.submit")
	return comp, nil
}
