package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/joffreyzhang/kurangame/internal/game"
	"github.com/joffreyzhang/kurangame/internal/prompt"
	"github.com/joffreyzhang/kurangame/pkg/provider/llm"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

// ErrNPCNotFound is returned when the npc id matches no scene NPC.
var ErrNPCNotFound = errors.New("session: npc not found")

// Recaller retrieves past narrative moments semantically similar to a query.
// The NPC chat prompt uses them so characters can reference events that fell
// out of the transcript window.
type Recaller interface {
	Recall(ctx context.Context, sessionID, query string, k int) ([]string, error)
}

// recallK is how many remembered moments the NPC chat prompt includes.
const recallK = 5

// NPCChatReply is the result of one NPC conversation turn.
type NPCChatReply struct {
	NPCID string `json:"npcId"`
	Name  string `json:"name"`
	Reply string `json:"reply"`
}

// ChatWithNPC runs one direct conversation turn with a scene NPC, outside the
// narrative step grammar. The transcript is persisted per NPC; the reply is
// plain prose.
func (r *Runtime) ChatWithNPC(ctx context.Context, sessionID, npcID, message string) (*NPCChatReply, error) {
	entry, err := r.entry(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	state := entry.state

	docs, err := r.loadDocs(state)
	if err != nil {
		return nil, err
	}
	sceneID, npc := findNPCByID(docs.Scenes, npcID)
	if npc == nil {
		return nil, fmt.Errorf("session: chat with %s: %w", npcID, ErrNPCNotFound)
	}

	transcript, err := r.store.LoadNPCChat(sessionID, npcID)
	if err != nil {
		return nil, fmt.Errorf("session: chat with %s: %w", npcID, err)
	}

	var recalled []string
	if r.recaller != nil {
		recalled, err = r.recaller.Recall(ctx, sessionID, message, recallK)
		if err != nil {
			// Memory is a luxury; the chat proceeds without it.
			r.log.Warn("session: memory recall failed",
				"session", sessionID, "npc", npcID, "error", err)
			recalled = nil
		}
	}

	p := r.builder.BuildNPCChat(prompt.NPCChatRequest{
		Lore:       docs.Lore,
		Player:     docs.Player,
		NPC:        npc,
		Scene:      docs.Scenes[sceneID],
		Recalled:   recalled,
		Transcript: transcript,
		Message:    message,
	})

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		Messages:     p.Messages,
		SystemPrompt: p.System,
	})
	if err != nil {
		return nil, fmt.Errorf("session: chat with %s: %w: %v", npcID, ErrLLMFailure, err)
	}

	transcript = append(transcript,
		types.Message{Role: types.RoleUser, Content: message},
		types.Message{Role: types.RoleAssistant, Content: resp.Content, Name: npc.Name},
	)
	if len(transcript) > MaxConversationTurns {
		transcript = transcript[len(transcript)-MaxConversationTurns:]
	}
	if err := r.store.SaveNPCChat(sessionID, npcID, transcript); err != nil {
		return nil, fmt.Errorf("session: chat with %s: %w", npcID, err)
	}

	return &NPCChatReply{NPCID: npcID, Name: npc.Name, Reply: resp.Content}, nil
}

// findNPCByID locates an NPC by id across all scenes.
func findNPCByID(scenes game.Scenes, npcID string) (string, *game.NPC) {
	for sceneID, scene := range scenes {
		for i := range scene.NPCs {
			if scene.NPCs[i].ID == npcID {
				return sceneID, &scene.NPCs[i]
			}
		}
	}
	return "", nil
}
