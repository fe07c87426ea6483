package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// ServeWebSocket upgrades the request and streams the session's events as
// JSON text frames. This is the optional live-feed transport; the event
// vocabulary and ordering are identical to the SSE transport, heartbeats are
// WebSocket pings instead of comment frames.
func (h *Hub) ServeWebSocket(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return fmt.Errorf("stream: websocket accept: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Inbound frames are not part of the protocol; discard them and use the
	// returned context to observe client disconnect.
	ctx := conn.CloseRead(r.Context())

	sub := h.Subscribe(sessionID)
	defer h.Unsubscribe(sub)

	heartbeat := time.NewTicker(DefaultHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, open := <-sub.Events():
			if !open {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("stream: encode event", "session", sessionID, "event", ev.Type, "error", err)
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return nil
			}
			heartbeat.Reset(DefaultHeartbeatInterval)

		case <-heartbeat.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return nil
			}
		}
	}
}
