// Package stream fans session-runtime events out to connected clients over
// server-sent events (the primary transport) or a WebSocket (optional live
// feed). One channel is registered per sessionId; publication is always
// non-blocking from the runtime's perspective.
package stream

import (
	"encoding/json"
	"time"
)

// EventType names the event vocabulary on the wire.
type EventType string

// The full event vocabulary, in the order they appear within one action.
const (
	EventConnected        EventType = "connected"
	EventActionReceived   EventType = "action_received"
	EventProcessing       EventType = "processing"
	EventResponseChunk    EventType = "response_chunk"
	EventStream           EventType = "stream"
	EventStateUpdate      EventType = "state_update"
	EventActionOptions    EventType = "action_options"
	EventNewMission       EventType = "new_mission"
	EventMissionCompleted EventType = "mission_completed"
	EventMissionAbandoned EventType = "mission_abandoned"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
)

// Event is one wire frame. Data carries the event-specific payload and is
// flattened next to the type on serialization.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// ConnectedPayload is sent once when a subscriber attaches.
type ConnectedPayload struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"ts"`
}

// ChunkPayload is one buffered-mode reply slice.
type ChunkPayload struct {
	Chunk string `json:"chunk"`
	Index int    `json:"index"`
	Total int    `json:"total"`
}

// StreamPayload is one live-mode token chunk.
type StreamPayload struct {
	Chunk string `json:"chunk"`
}

// StateUpdatePayload is the partial snapshot published after parsing.
type StateUpdatePayload struct {
	GameState       any `json:"gameState"`
	CharacterStatus any `json:"characterStatus"`
}

// OptionsPayload lists the parsed choice options for the client panel.
type OptionsPayload struct {
	Options []string `json:"options"`
}

// MissionPayload wraps a mission for new/completed events.
type MissionPayload struct {
	Mission any `json:"mission"`
}

// AbandonPayload reports a mission abandonment.
type AbandonPayload struct {
	Mission            any  `json:"mission"`
	StorylineUnblocked bool `json:"storylineUnblocked"`
}

// ErrorPayload carries a failure to the subscriber.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Encode serializes the event as one SSE data frame: `data: <json>\n\n`.
func (e Event) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(body)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, body...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

// heartbeatFrame is the SSE comment frame sent on the heartbeat interval.
var heartbeatFrame = []byte(":heartbeat\n\n")
