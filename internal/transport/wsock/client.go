// Package wsock carries control frames as websocket binary messages.
package wsock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/wsctl/internal/control"
	"github.com/danmuck/wsctl/internal/protocol/frame"
	"github.com/danmuck/wsctl/internal/protocol/session"
	"github.com/danmuck/wsctl/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrURLRequired = errors.New("wsock: url required")

const DefaultPingInterval = 30 * time.Second

type Config struct {
	URL          string
	Header       http.Header
	PingInterval time.Duration
	Session      session.Config
}

// Client holds one websocket session to a nukleus control endpoint. The
// session is not redialed; after loss every Submit fails with
// transport.ErrConnectionLost.
type Client struct {
	cfg  Config
	sink transport.Sink
	conn *websocket.Conn
	done chan struct{}
	wg   sync.WaitGroup

	writeMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	lostErr error
}

func Dial(ctx context.Context, cfg Config, sink transport.Sink) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrURLRequired
	}
	if sink == nil {
		return nil, transport.ErrSinkRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.Session.HandshakeTimeout}
	if cfg.Session.TLS.Enabled {
		if err := cfg.Session.ValidateClientTransport(); err != nil {
			return nil, err
		}
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, err
		}
		host := u.Host
		if u.Port() == "" {
			host = u.Host + ":443"
		}
		tlsCfg, err := cfg.Session.ClientTLSConfig(host)
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
	}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(int64(cfg.Session.Limits.MaxPayloadBytes) + int64(frame.FixedHeaderLen))

	c := &Client{
		cfg:  cfg,
		sink: sink,
		conn: conn,
		done: make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.heartbeatLoop()
	log.Info().Str("url", cfg.URL).Msg("wsock.Client connected")
	return c, nil
}

func (c *Client) Submit(ctx context.Context, cmd *control.Encoded) error {
	raw, err := session.EncodeCommandFrame(cmd, c.cfg.Session.Limits)
	if err != nil {
		return err
	}
	c.mu.Lock()
	closed, lostErr := c.closed, c.lostErr
	c.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if lostErr != nil {
		return lostErr
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.cfg.Session.WriteTimeout)
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		c.lost(err)
		return fmt.Errorf("%w: %v", transport.ErrConnectionLost, err)
	}
	log.Debug().
		Str("url", c.cfg.URL).
		Uint64("correlation_id", cmd.CorrelationID()).
		Str("kind", cmd.Kind().String()).
		Msg("wsock.Client submitted")
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
	close(c.done)

	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			c.lost(err)
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		f, err := frame.ParseFrame(data, c.cfg.Session.Limits)
		if err != nil {
			log.Warn().Err(err).Str("url", c.cfg.URL).Msg("wsock.Client bad frame")
			continue
		}
		transport.Deliver(c.sink, f, "websocket")
	}
}

func (c *Client) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.Session.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				log.Debug().Err(err).Msg("wsock.Client ping failed")
			}
		}
	}
}

// lost records the first connection failure and abandons pending commands.
// Failures after Close are ignored.
func (c *Client) lost(cause error) {
	c.mu.Lock()
	if c.closed || c.lostErr != nil {
		c.mu.Unlock()
		return
	}
	c.lostErr = fmt.Errorf("%w: %v", transport.ErrConnectionLost, cause)
	lostErr := c.lostErr
	c.mu.Unlock()

	_ = c.conn.Close()
	log.Warn().Err(cause).Str("url", c.cfg.URL).Msg("wsock.Client connection lost")
	c.sink.AbandonAll(lostErr)
}
