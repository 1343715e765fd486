package nukleus

import (
	"strings"

	"github.com/danmuck/wsctl/internal/protocol/frame"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// DefaultSubject is the NATS subject commands for nukleus name are sent to.
func DefaultSubject(name string) string {
	return "wsctl.nukleus." + strings.TrimSpace(name) + ".control"
}

// ServeNATS subscribes n to subject. Each message carries one command frame;
// the reply frame is published to the message's reply subject.
func ServeNATS(nc *nats.Conn, subject string, n *Node) (*nats.Subscription, error) {
	limits := frame.DefaultLimits()
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		if msg.Reply == "" {
			log.Warn().Str("subject", msg.Subject).Msg("nukleus.ServeNATS message without reply subject")
			return
		}
		f, err := frame.ParseFrame(msg.Data, limits)
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("nukleus.ServeNATS bad frame")
			return
		}
		out, err := replyBytes(n, f, limits)
		if err != nil {
			log.Error().Err(err).Msg("nukleus.ServeNATS encode reply failed")
			return
		}
		if err := msg.Respond(out); err != nil {
			log.Warn().Err(err).Str("reply", msg.Reply).Msg("nukleus.ServeNATS respond failed")
		}
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("subject", subject).Str("nukleus", n.Name()).Msg("nukleus.ServeNATS subscribed")
	return sub, nil
}
