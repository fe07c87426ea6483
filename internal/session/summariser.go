package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joffreyzhang/kurangame/pkg/provider/llm"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

// ErrNoSummariser is returned by [Runtime.Recap] when no summariser was
// configured.
var ErrNoSummariser = errors.New("session: no summariser configured")

// recapTailEntries bounds how much of the narrative log a recap reads. Old
// sessions can hold thousands of entries; the most recent stretch is what a
// returning player needs.
const recapTailEntries = 120

// Summariser condenses a stretch of the narrative log into a short recap for
// a player returning to a long-running session.
type Summariser interface {
	Summarise(ctx context.Context, entries []types.HistoryEntry) (string, error)
}

// LLMSummariser produces recaps through an LLM completion.
type LLMSummariser struct {
	provider llm.Provider
}

var _ Summariser = (*LLMSummariser)(nil)

// NewLLMSummariser creates a summariser over the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{provider: provider}
}

const recapSystemPrompt = `You summarise the recent events of an interactive story for a returning player.
Write a single paragraph of at most 120 words, in second person, present tense.
Cover what the player did, who they met, and any unresolved threads.
Do not invent events that are not in the log.`

// Summarise implements [Summariser].
func (s *LLMSummariser) Summarise(ctx context.Context, entries []types.HistoryEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, e := range entries {
		if e.Text == "" {
			continue
		}
		if e.Speaker != "" {
			fmt.Fprintf(&b, "[%s/%s]: %s\n", e.Type, e.Speaker, e.Text)
		} else {
			fmt.Fprintf(&b, "[%s]: %s\n", e.Type, e.Text)
		}
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: recapSystemPrompt,
		Messages: []types.Message{
			{Role: "user", Content: b.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summariser: complete: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Recap summarises the tail of the session's narrative log. The summary is
// not persisted; it is generated fresh on each call.
func (r *Runtime) Recap(ctx context.Context, sessionID string) (string, error) {
	if r.summariser == nil {
		return "", ErrNoSummariser
	}

	entry, err := r.entry(sessionID)
	if err != nil {
		return "", err
	}
	entry.mu.Lock()
	history := make([]types.HistoryEntry, len(entry.state.History))
	copy(history, entry.state.History)
	entry.mu.Unlock()

	if len(history) > recapTailEntries {
		history = history[len(history)-recapTailEntries:]
	}

	summary, err := r.summariser.Summarise(ctx, history)
	if err != nil {
		return "", fmt.Errorf("session: recap %s: %w", sessionID, err)
	}
	return summary, nil
}
