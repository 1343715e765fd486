// Package stream carries control frames over a TCP or TLS byte stream.
package stream

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/wsctl/internal/control"
	"github.com/danmuck/wsctl/internal/protocol/frame"
	"github.com/danmuck/wsctl/internal/protocol/session"
	"github.com/danmuck/wsctl/internal/transport"
	"github.com/rs/zerolog/log"
)

var ErrAddressRequired = errors.New("stream: address required")

type Config struct {
	Address string
	Session session.Config
}

// Client writes command frames to one nukleus connection and reads replies on
// a background goroutine. A lost connection abandons every pending command;
// the next Submit redials.
type Client struct {
	cfg  Config
	sink transport.Sink
	rng  *rand.Rand

	mu     sync.Mutex
	conn   net.Conn
	closed bool
	wg     sync.WaitGroup
}

// Dial connects with retry and starts the reply reader.
func Dial(ctx context.Context, cfg Config, sink transport.Sink) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	if sink == nil {
		return nil, transport.ErrSinkRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	c := &Client{
		cfg:  cfg,
		sink: sink,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c, nil
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
	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return err
		}
	}
	if err := c.conn.SetWriteDeadline(writeDeadline(ctx, c.cfg.Session.WriteTimeout)); err != nil {
		return err
	}
	if _, err := c.conn.Write(raw); err != nil {
		log.Warn().Err(err).Str("addr", c.cfg.Address).Uint64("correlation_id", cmd.CorrelationID()).Msg("stream.Client write failed")
		_ = c.conn.Close()
		c.conn = nil
		lostErr := fmt.Errorf("%w: %v", transport.ErrConnectionLost, err)
		c.sink.AbandonAll(lostErr)
		return lostErr
	}
	log.Debug().
		Str("addr", c.cfg.Address).
		Uint64("correlation_id", cmd.CorrelationID()).
		Str("kind", cmd.Kind().String()).
		Int("bytes", len(raw)).
		Msg("stream.Client submitted")
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

func (c *Client) connectLocked(ctx context.Context) error {
	backoff := session.NewBackoff(c.cfg.Session.Backoff, c.rng)
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			c.conn = conn
			c.wg.Add(1)
			go c.readLoop(conn)
			log.Info().Str("addr", c.cfg.Address).Int("attempts", backoff.Attempt()+1).Msg("stream.Client connected")
			return nil
		}
		attempt := backoff.Attempt() + 1
		log.Warn().Err(err).Int("attempt", attempt).Str("addr", c.cfg.Address).Msg("stream.Client dial failed")
		if !c.shouldRetry(attempt) {
			return err
		}
		if err := sleep(ctx, backoff.Next()); err != nil {
			return err
		}
	}
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.Session.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.Session.MaxConnectAttempts
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if err := c.cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return nil, err
	}
	if !c.cfg.Session.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := c.cfg.Session.ClientTLSConfig(c.cfg.Address)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()
	reader := bufio.NewReader(conn)
	for {
		f, err := frame.ReadFrame(reader, c.cfg.Session.Limits)
		if err != nil {
			c.lost(conn, err)
			return
		}
		transport.Deliver(c.sink, f, "stream")
	}
}

// lost clears conn if it is still current and abandons pending commands. A
// deliberate Close abandons nothing here; the owner decides.
func (c *Client) lost(conn net.Conn, cause error) {
	c.mu.Lock()
	current := c.conn == conn
	closed := c.closed
	if current {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
	if closed || !current {
		return
	}
	log.Warn().Err(cause).Str("addr", c.cfg.Address).Msg("stream.Client connection lost")
	c.sink.AbandonAll(fmt.Errorf("%w: %v", transport.ErrConnectionLost, cause))
}

func writeDeadline(ctx context.Context, fallback time.Duration) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Now().Add(fallback)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
