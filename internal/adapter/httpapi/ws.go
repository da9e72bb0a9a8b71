package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"mcpchat/internal/domain"
)

const wsWriteTimeout = 5 * time.Second

// sessionEvent is one frame of the websocket stream.
type sessionEvent struct {
	Type      domain.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

// handleWS streams the events of one session until the client goes away.
// Events are dropped when the client cannot keep up.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionParam(w, r)
	if !ok {
		return
	}

	opts := &websocket.AcceptOptions{}
	for _, o := range s.deps.Config.AllowedOrigins {
		if o == "*" {
			opts.InsecureSkipVerify = true
			break
		}
		opts.OriginPatterns = append(opts.OriginPatterns, originHost(o))
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.deps.Logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	sendCh := make(chan sessionEvent, 64)
	unsubscribe := s.deps.Bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		if ev.SessionID != id {
			return
		}
		select {
		case sendCh <- sessionEvent{Type: ev.Type, Timestamp: ev.Timestamp, Payload: ev.Payload}:
		default:
		}
	})
	defer unsubscribe()

	s.deps.Logger.Info("websocket client connected", "session_id", id)

	// CloseRead handles control frames and cancels ctx when the peer closes.
	ctx := ws.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			s.deps.Logger.Info("websocket client disconnected", "session_id", id)
			return
		case ev := <-sendCh:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, ws, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// originHost strips the scheme from an allowed origin so it can be used as a
// websocket origin pattern.
func originHost(origin string) string {
	if rest, ok := strings.CutPrefix(origin, "https://"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(origin, "http://"); ok {
		return rest
	}
	return origin
}
