package stream

import (
	"fmt"
	"net/http"
	"time"
)

// ServeSSE attaches a new subscriber for the session and streams its events
// to w in server-sent-events format until the client disconnects or the
// subscriber channel is closed. A `:heartbeat` comment frame is written on
// every heartbeat interval while idle.
//
// The call blocks for the lifetime of the connection. The in-flight action
// is never cancelled by a disconnect; its remaining events are simply
// discarded with the subscriber.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, sessionID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("stream: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.Subscribe(sessionID)
	defer h.Unsubscribe(sub)

	heartbeat := time.NewTicker(DefaultHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, open := <-sub.Events():
			if !open {
				return nil
			}
			frame, err := ev.Encode()
			if err != nil {
				h.log.Error("stream: encode event", "session", sessionID, "event", ev.Type, "error", err)
				continue
			}
			if _, err := w.Write(frame); err != nil {
				return nil // client went away
			}
			flusher.Flush()
			heartbeat.Reset(DefaultHeartbeatInterval)

		case <-heartbeat.C:
			if _, err := w.Write(heartbeatFrame); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
