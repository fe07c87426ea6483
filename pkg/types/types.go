// Package types defines the shared types used across all KuranGame packages.
//
// These types form the lingua franca between providers, the session runtime,
// the prompt builder, and the stores. They are intentionally minimal — each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import "time"

// Role values for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`

	// Name is an optional participant name (for multi-speaker contexts,
	// e.g. NPC chat transcripts).
	Name string `json:"name,omitempty"`
}

// HistoryEntryType classifies entries in a session's narrative log.
type HistoryEntryType string

const (
	// HistoryPlayerAction records a raw action submitted by the player.
	HistoryPlayerAction HistoryEntryType = "player_action"

	// HistoryNarration records a narration step emitted by the model.
	HistoryNarration HistoryEntryType = "narration"

	// HistoryDialogue records an NPC dialogue step.
	HistoryDialogue HistoryEntryType = "dialogue"

	// HistoryHint records a hint step (state-change commentary).
	HistoryHint HistoryEntryType = "hint"

	// HistorySystem records engine-generated entries such as scene changes
	// and era skips.
	HistorySystem HistoryEntryType = "system"
)

// HistoryEntry is one record in the full narrative log of a session.
// The narrative log is append-only; entries are never rewritten.
type HistoryEntry struct {
	// Type classifies the entry.
	Type HistoryEntryType `json:"type"`

	// Text is the entry content. For dialogue entries this is the spoken
	// line; the speaker is recorded in Speaker.
	Text string `json:"text"`

	// Speaker is the NPC identifier for dialogue entries. Empty otherwise.
	Speaker string `json:"speaker,omitempty"`

	// Timestamp is when the entry was recorded (wall clock, UTC).
	Timestamp time.Time `json:"ts"`
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one
	// completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool
}
