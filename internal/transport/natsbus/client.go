// Package natsbus carries control frames over NATS. Commands are published to
// the nukleus subject with a private reply subject; replies arrive on it.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/wsctl/internal/control"
	"github.com/danmuck/wsctl/internal/protocol/frame"
	"github.com/danmuck/wsctl/internal/protocol/session"
	"github.com/danmuck/wsctl/internal/transport"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

var (
	ErrSubjectRequired = errors.New("natsbus: subject required")
	ErrConnRequired    = errors.New("natsbus: connection required")
)

const DefaultReplyPrefix = "wsctl.reply"

type Config struct {
	URL         string
	Name        string
	Subject     string
	ReplyPrefix string
	Session     session.Config
}

// Client publishes command frames on one subject.
type Client struct {
	cfg   Config
	nc    *nats.Conn
	owned bool
	inbox string
	sub   *nats.Subscription
	sink  transport.Sink

	mu     sync.Mutex
	closed bool
}

// Connect dials cfg.URL and builds a Client that owns the connection. A
// disconnect abandons pending commands since replies published while
// disconnected are lost.
func Connect(cfg Config, sink transport.Sink) (*Client, error) {
	if sink == nil {
		return nil, transport.ErrSinkRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "wsctl"
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.Timeout(cfg.Session.ConnectTimeout),
		nats.ReconnectWait(cfg.Session.Backoff.InitialDelay),
		nats.MaxReconnects(maxReconnects(cfg.Session.MaxConnectAttempts)),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("natsbus.Client disconnected")
			sink.AbandonAll(fmt.Errorf("%w: %v", transport.ErrConnectionLost, err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("natsbus.Client reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Debug().Msg("natsbus.Client connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect %s: %w", cfg.URL, err)
	}
	c, err := New(nc, cfg, sink)
	if err != nil {
		nc.Close()
		return nil, err
	}
	c.owned = true
	return c, nil
}

// New builds a Client on an existing connection. The caller keeps ownership
// of nc.
func New(nc *nats.Conn, cfg Config, sink transport.Sink) (*Client, error) {
	if nc == nil {
		return nil, ErrConnRequired
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		return nil, ErrSubjectRequired
	}
	if sink == nil {
		return nil, transport.ErrSinkRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	prefix := strings.TrimSpace(cfg.ReplyPrefix)
	if prefix == "" {
		prefix = DefaultReplyPrefix
	}

	c := &Client{
		cfg:   cfg,
		nc:    nc,
		inbox: prefix + "." + uuid.NewString(),
		sink:  sink,
	}
	sub, err := nc.Subscribe(c.inbox, c.onReply)
	if err != nil {
		return nil, err
	}
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	c.sub = sub
	log.Info().Str("subject", cfg.Subject).Str("inbox", c.inbox).Msg("natsbus.Client ready")
	return c, nil
}

func (c *Client) Inbox() string {
	return c.inbox
}

func (c *Client) Submit(ctx context.Context, cmd *control.Encoded) error {
	raw, err := session.EncodeCommandFrame(cmd, c.cfg.Session.Limits)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.nc.IsConnected() {
		return fmt.Errorf("%w: nats status %s", transport.ErrConnectionLost, c.nc.Status())
	}
	if err := c.nc.PublishMsg(&nats.Msg{Subject: c.cfg.Subject, Reply: c.inbox, Data: raw}); err != nil {
		return err
	}
	log.Debug().
		Str("subject", c.cfg.Subject).
		Uint64("correlation_id", cmd.CorrelationID()).
		Str("kind", cmd.Kind().String()).
		Msg("natsbus.Client submitted")
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	var err error
	if c.sub != nil {
		err = c.sub.Unsubscribe()
	}
	if c.owned {
		c.nc.Close()
	}
	return err
}

func (c *Client) onReply(msg *nats.Msg) {
	f, err := frame.ParseFrame(msg.Data, c.cfg.Session.Limits)
	if err != nil {
		log.Warn().Err(err).Str("inbox", c.inbox).Msg("natsbus.Client bad frame")
		return
	}
	transport.Deliver(c.sink, f, "nats")
}

// FlushTimeout waits for published commands to reach the server.
func (c *Client) FlushTimeout(d time.Duration) error {
	return c.nc.FlushTimeout(d)
}

// maxReconnects maps session attempts onto nats.MaxReconnects, where a
// negative value means retry forever. Zero attempts means unbounded, as it
// does for the stream client.
func maxReconnects(attempts int) int {
	if attempts <= 0 {
		return -1
	}
	return attempts
}
