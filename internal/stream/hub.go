package stream

import (
	"log/slog"
	"sync"
	"time"
)

// Defaults for subscriber channels.
const (
	// DefaultBufferSize is the per-subscriber event buffer. When the buffer
	// is full, events are dropped for that subscriber.
	DefaultBufferSize = 64

	// DefaultHeartbeatInterval is how often transports send keep-alive
	// frames while idle.
	DefaultHeartbeatInterval = 30 * time.Second
)

// Subscriber is one connected event-stream consumer for one session.
type Subscriber struct {
	sessionID   string
	ch          chan Event
	connectedAt time.Time

	mu      sync.Mutex
	dropped bool // a drop happened and the error notice is still pending
	closed  bool
}

// SessionID returns the session this subscriber is attached to.
func (s *Subscriber) SessionID() string {
	return s.sessionID
}

// ConnectedAt returns when the subscriber attached.
func (s *Subscriber) ConnectedAt() time.Time {
	return s.connectedAt
}

// Events returns the receive channel. It is closed on Unsubscribe.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Hub registers per-session subscribers and fans out events. All methods are
// safe for concurrent use; Publish never blocks.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]*Subscriber

	log        *slog.Logger
	bufferSize int
}

// HubOption configures the Hub.
type HubOption func(*Hub)

// WithBufferSize overrides the per-subscriber buffer size.
func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		h.bufferSize = n
	}
}

// NewHub creates an empty Hub.
func NewHub(log *slog.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		subs:       make(map[string][]*Subscriber),
		log:        log,
		bufferSize: DefaultBufferSize,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers a new subscriber for the session and immediately
// queues the connected event.
func (h *Hub) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{
		sessionID:   sessionID,
		ch:          make(chan Event, h.bufferSize),
		connectedAt: time.Now().UTC(),
	}

	h.mu.Lock()
	h.subs[sessionID] = append(h.subs[sessionID], sub)
	h.mu.Unlock()

	sub.ch <- Event{Type: EventConnected, Data: ConnectedPayload{
		SessionID: sessionID,
		Timestamp: sub.connectedAt,
	}}

	h.log.Debug("stream: subscriber attached", "session", sessionID)
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call
// more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	list := h.subs[sub.sessionID]
	for i, s := range list {
		if s == sub {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(h.subs, sub.sessionID)
	} else {
		h.subs[sub.sessionID] = list
	}
	h.mu.Unlock()

	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	sub.mu.Unlock()

	h.log.Debug("stream: subscriber detached", "session", sub.sessionID)
}

// SubscriberCount returns the number of attached subscribers for a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Publish delivers the event to every subscriber of the session without
// blocking. A subscriber whose buffer is full loses the event; the first
// event that fits afterwards is preceded by a single error notice so the
// client knows its view is gapped.
func (h *Hub) Publish(sessionID string, ev Event) {
	h.mu.RLock()
	list := make([]*Subscriber, len(h.subs[sessionID]))
	copy(list, h.subs[sessionID])
	h.mu.RUnlock()

	for _, sub := range list {
		h.deliver(sub, ev)
	}
}

// deliver attempts the non-blocking send, honoring the drop-notice protocol.
func (h *Hub) deliver(sub *Subscriber, ev Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}

	if sub.dropped {
		// One pending error notice precedes the next event that fits.
		notice := Event{Type: EventError, Data: ErrorPayload{Error: "event buffer overflow: some events were dropped"}}
		select {
		case sub.ch <- notice:
			sub.dropped = false
		default:
			return // still full; keep the notice pending
		}
	}

	select {
	case sub.ch <- ev:
	default:
		sub.dropped = true
		h.log.Warn("stream: event dropped for slow subscriber",
			"session", sub.sessionID, "event", ev.Type)
	}
}

// Shutdown detaches every subscriber. Used on process exit.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	all := make([]*Subscriber, 0)
	for _, list := range h.subs {
		all = append(all, list...)
	}
	h.subs = make(map[string][]*Subscriber)
	h.mu.Unlock()

	for _, sub := range all {
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		sub.mu.Unlock()
	}
}
