package nukleus

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/wsctl/internal/protocol/frame"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler upgrades to a websocket and answers one command frame per
// binary message. Requests without an Origin header and same-origin requests
// are accepted; other browser origins must be listed in allowedOrigins.
func WebSocketHandler(n *Node, allowedOrigins ...string) http.Handler {
	limits := frame.DefaultLimits()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("nukleus.WebSocketHandler upgrade failed")
			return
		}
		defer conn.Close()
		conn.SetReadLimit(int64(limits.MaxPayloadBytes) + int64(frame.FixedHeaderLen))
		remote := conn.RemoteAddr().String()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Str("remote", remote).Msg("nukleus.WebSocketHandler read ended")
				}
				return
			}
			if mt != websocket.BinaryMessage {
				log.Warn().Int("message_type", mt).Str("remote", remote).Msg("nukleus.WebSocketHandler ignoring non-binary message")
				continue
			}
			f, err := frame.ParseFrame(data, limits)
			if err != nil {
				log.Warn().Err(err).Str("remote", remote).Msg("nukleus.WebSocketHandler bad frame")
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseUnsupportedData, err.Error()),
					time.Now().Add(time.Second),
				)
				return
			}
			out, err := replyBytes(n, f, limits)
			if err != nil {
				log.Error().Err(err).Msg("nukleus.WebSocketHandler encode reply failed")
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
				log.Warn().Err(err).Str("remote", remote).Msg("nukleus.WebSocketHandler write failed")
				return
			}
		}
	})
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		log.Warn().Str("origin", origin).Str("remote", r.RemoteAddr).Msg("nukleus.WebSocketHandler origin rejected")
		return false
	}
}
