// Package transport defines how encoded control commands leave the process
// and how replies find their way back to the correlation dispatcher.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/wsctl/internal/control"
	"github.com/danmuck/wsctl/internal/correlation"
	"github.com/danmuck/wsctl/internal/protocol/frame"
	"github.com/danmuck/wsctl/internal/protocol/schema"
	"github.com/danmuck/wsctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed         = errors.New("transport: closed")
	ErrConnectionLost = errors.New("transport: connection lost")
	ErrSinkRequired   = errors.New("transport: reply sink required")
)

// Transport delivers one encoded command. Submit must copy the bytes before
// it returns; the caller releases the scratch region afterwards. Replies are
// delivered asynchronously to the Sink the transport was built with.
type Transport interface {
	Submit(ctx context.Context, cmd *control.Encoded) error
	Close() error
}

// Sink receives replies keyed by correlation id. *correlation.Dispatcher
// implements it.
type Sink interface {
	Resolve(r correlation.Reply) error
	AbandonAll(cause error)
}

// ReplyFromFrame maps a reply frame onto the dispatcher's reply shape. A
// success reply carries the command kind it answers.
func ReplyFromFrame(f frame.Frame) (correlation.Reply, error) {
	r, err := session.DecodeReplyFrame(f)
	if err != nil {
		return correlation.Reply{}, err
	}
	out := correlation.Reply{
		CorrelationID: r.CorrelationID,
		RouteID:       r.RouteID,
		Nukleus:       r.Nukleus,
	}
	if r.IsError() {
		out.Err = &correlation.ReplyError{Code: r.Code, Message: r.Message}
		return out, nil
	}
	cmdType, ok := schema.CommandTypeFor(r.TypeID)
	if !ok {
		return correlation.Reply{}, fmt.Errorf("%w: type %#x", session.ErrNotReply, r.TypeID)
	}
	kind, ok := control.KindFromTypeID(cmdType)
	if !ok {
		return correlation.Reply{}, fmt.Errorf("%w: type %#x", session.ErrNotReply, r.TypeID)
	}
	out.Kind = kind
	return out, nil
}

// Deliver decodes f and hands it to sink. Undecodable frames and unknown ids
// are logged and dropped.
func Deliver(sink Sink, f frame.Frame, via string) {
	reply, err := ReplyFromFrame(f)
	if err != nil {
		log.Warn().
			Err(err).
			Str("transport", via).
			Uint64("correlation_id", f.Header.CorrelationID).
			Uint32("type_id", f.Header.TypeID).
			Msg("transport.Deliver dropped frame")
		return
	}
	if err := sink.Resolve(reply); err != nil {
		log.Debug().Err(err).Str("transport", via).Msg("transport.Deliver unresolved")
	}
}
