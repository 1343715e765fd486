package nukleus

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/danmuck/wsctl/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

// StreamServer answers command frames on accepted TCP or TLS connections.
type StreamServer struct {
	node   *Node
	limits frame.Limits

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
}

func NewStreamServer(n *Node, limits frame.Limits) *StreamServer {
	if limits.MaxPayloadBytes == 0 {
		limits = frame.DefaultLimits()
	}
	return &StreamServer{node: n, limits: limits, conns: make(map[net.Conn]struct{})}
}

// ServeStream runs a StreamServer for n on ln until ctx ends.
func ServeStream(ctx context.Context, ln net.Listener, n *Node) error {
	return NewStreamServer(n, frame.DefaultLimits()).Serve(ctx, ln)
}

// Serve accepts connections until ctx ends or ln fails. Open connections are
// closed on return.
func (s *StreamServer) Serve(ctx context.Context, ln net.Listener) error {
	defer s.wg.Wait()
	defer ln.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = ln.Close()
		s.closeAllConns()
	}()

	log.Info().Str("addr", ln.Addr().String()).Str("nukleus", s.node.Name()).Msg("nukleus.StreamServer listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !s.admit(ctx, conn) {
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// admit tracks conn unless ctx already ended. A conn tracked after the
// shutdown sweep would never be closed, so ctx is checked after tracking.
func (s *StreamServer) admit(ctx context.Context, conn net.Conn) bool {
	s.trackConn(conn)
	if ctx.Err() == nil {
		return true
	}
	s.untrackConn(conn)
	_ = conn.Close()
	return false
}

// CloseConnections drops every open connection without stopping the listener.
func (s *StreamServer) CloseConnections() {
	s.closeAllConns()
}

func (s *StreamServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	log.Debug().Str("remote", remote).Msg("nukleus.StreamServer client connected")

	reader := bufio.NewReader(conn)
	for {
		f, err := frame.ReadFrame(reader, s.limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Str("remote", remote).Msg("nukleus.StreamServer read failed")
			}
			return
		}
		out, err := replyBytes(s.node, f, s.limits)
		if err != nil {
			log.Error().Err(err).Str("remote", remote).Msg("nukleus.StreamServer encode reply failed")
			return
		}
		if _, err := conn.Write(out); err != nil {
			log.Warn().Err(err).Str("remote", remote).Msg("nukleus.StreamServer write failed")
			return
		}
	}
}

func (s *StreamServer) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *StreamServer) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *StreamServer) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
