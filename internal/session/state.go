// Package session implements the per-session runtime: it serializes player
// actions against one conversation-state object, drives the LLM, parses the
// reply into steps and deltas, commits state through the status engine, ticks
// the mission engine, and publishes the event sequence to the stream hub.
//
// Every session has exactly one logical writer at a time, enforced with a
// per-session mutex. Sessions are hydrated from a compact on-disk snapshot
// after a restart.
package session

import (
	"time"

	"github.com/joffreyzhang/kurangame/internal/mission"
	"github.com/joffreyzhang/kurangame/internal/prompt"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

// GameState is the client-facing progress summary inside the conversation
// state.
type GameState struct {
	CurrentLocation string    `json:"currentLocation"`
	IsInitialized   bool      `json:"isInitialized"`
	LastAction      string    `json:"lastAction,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ConversationState is everything the runtime tracks per session beyond the
// four world documents. It is the snapshot persisted after every action; the
// full narrative log lives in its own history file and is rehydrated
// separately on recovery.
type ConversationState struct {
	SessionID     string       `json:"sessionId"`
	FileID        string       `json:"fileId"`
	PlayerName    string       `json:"playerName"`
	LiteraryStyle prompt.Style `json:"literaryStyle"`
	GameState     GameState    `json:"gameState"`

	// ConversationHistory is the LLM context window: alternating user and
	// assistant messages, bounded to the trailing MaxConversationTurns.
	ConversationHistory []types.Message `json:"conversationHistory"`

	TurnCount       int `json:"turnCount"`
	LastMissionTurn int `json:"lastMissionTurn"`

	Missions           []*mission.Mission `json:"missions"`
	BlockedByMissionID string             `json:"blockedByMissionId,omitempty"`

	// History is the full narrative log. Persisted in its own file, not in
	// the snapshot.
	History []types.HistoryEntry `json:"-"`
}

// MaxConversationTurns bounds the LLM context window kept per session.
// Oldest messages are dropped first.
const MaxConversationTurns = prompt.MaxHistoryTurns

// FindMission returns the mission with the given id, or nil.
func (c *ConversationState) FindMission(id string) *mission.Mission {
	for _, m := range c.Missions {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// ActiveMissions returns the missions currently in the active state.
func (c *ConversationState) ActiveMissions() []*mission.Mission {
	var out []*mission.Mission
	for _, m := range c.Missions {
		if m.Status == mission.StatusActive {
			out = append(out, m)
		}
	}
	return out
}

// CompletedMissions returns the missions that have been completed.
func (c *ConversationState) CompletedMissions() []*mission.Mission {
	var out []*mission.Mission
	for _, m := range c.Missions {
		if m.Status == mission.StatusCompleted {
			out = append(out, m)
		}
	}
	return out
}

// BlockingMission returns the active story mission recorded as blocking the
// storyline, or nil when the storyline is free. A stale BlockedByMissionID
// pointing at a resolved mission does not block.
func (c *ConversationState) BlockingMission() *mission.Mission {
	if c.BlockedByMissionID == "" {
		return nil
	}
	m := c.FindMission(c.BlockedByMissionID)
	if m == nil || !m.Blocking() {
		return nil
	}
	return m
}

// appendConversation appends a message to the bounded LLM context window.
func (c *ConversationState) appendConversation(role, content string) {
	c.ConversationHistory = append(c.ConversationHistory, types.Message{Role: role, Content: content})
	if len(c.ConversationHistory) > MaxConversationTurns {
		c.ConversationHistory = c.ConversationHistory[len(c.ConversationHistory)-MaxConversationTurns:]
	}
}

// appendHistory appends one narrative-log entry stamped now.
func (c *ConversationState) appendHistory(typ types.HistoryEntryType, text, speaker string) {
	c.History = append(c.History, types.HistoryEntry{
		Type:      typ,
		Text:      text,
		Speaker:   speaker,
		Timestamp: time.Now().UTC(),
	})
}

// clone returns a copy safe to hand to readers while the writer continues.
// Slices are copied shallowly; readers must treat the result as immutable.
func (c *ConversationState) clone() *ConversationState {
	cp := *c
	cp.ConversationHistory = append([]types.Message(nil), c.ConversationHistory...)
	cp.Missions = append([]*mission.Mission(nil), c.Missions...)
	cp.History = append([]types.HistoryEntry(nil), c.History...)
	return &cp
}
