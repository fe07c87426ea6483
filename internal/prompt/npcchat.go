package prompt

import (
	"fmt"
	"strings"

	"github.com/joffreyzhang/kurangame/internal/game"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

// NPCChatRequest carries the context for one direct NPC conversation turn.
type NPCChatRequest struct {
	Lore   *game.Lore
	Player *game.Player
	NPC    *game.NPC
	Scene  *game.Scene

	// Recalled holds narrative moments retrieved from the session's semantic
	// memory that are relevant to the player's message. They let the NPC
	// reference past events the transcript window no longer covers.
	Recalled []string

	// Transcript is the prior chat with this NPC (bounded by the caller).
	Transcript []types.Message

	// Message is the player's current chat line.
	Message string
}

// BuildNPCChat assembles the prompt for direct NPC conversation. Unlike the
// action prompt, the output contract is plain prose: the NPC's reply only.
func (b *Builder) BuildNPCChat(req NPCChatRequest) ActionPrompt {
	var sb strings.Builder

	npc := req.NPC
	fmt.Fprintf(&sb, "You are %s, a character in an interactive-fiction world. Stay fully in character.\n\n", npc.Name)

	sb.WriteString("## Who you are\n")
	fmt.Fprintf(&sb, "Name: %s", npc.Name)
	if npc.Age > 0 {
		fmt.Fprintf(&sb, ", age %d", npc.Age)
	}
	if npc.Gender != "" {
		fmt.Fprintf(&sb, ", %s", npc.Gender)
	}
	if npc.Job != "" {
		fmt.Fprintf(&sb, ", %s", npc.Job)
	}
	sb.WriteString("\n")
	if npc.Description != "" {
		fmt.Fprintf(&sb, "%s\n", npc.Description)
	}
	fmt.Fprintf(&sb, "Your relationship with the player is %d on a scale of -100 (hatred) to 100 (devotion). Let it color your tone.\n\n", npc.Relationship)

	if req.Scene != nil {
		sb.WriteString("## Where you are\n")
		fmt.Fprintf(&sb, "%s: %s\n\n", req.Scene.Name, req.Scene.Description)
	}

	if req.Lore != nil {
		if era := req.Lore.CurrentEra(); era != nil {
			fmt.Fprintf(&sb, "## The times\nIt is the era of %s. %s\n\n", era.Title, era.Description)
		}
	}

	if req.Player != nil {
		sb.WriteString("## Who you are talking to\n")
		fmt.Fprintf(&sb, "%s, age %d, %s\n\n", req.Player.Profile.Name, req.Player.Profile.Age, req.Player.Profile.Gender)
	}

	if len(req.Recalled) > 0 {
		sb.WriteString("## What you remember\n")
		sb.WriteString("Moments from your shared past that may be relevant:\n")
		for _, m := range req.Recalled {
			fmt.Fprintf(&sb, "- %s\n", truncateRunes(m, 300))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## How to reply\n")
	sb.WriteString("Reply with your spoken words only — no markers, no stage directions, no narration. One to four sentences, in character.\n")

	messages := b.boundHistory(req.Transcript)
	messages = append(messages, types.Message{Role: types.RoleUser, Content: req.Message})

	return ActionPrompt{System: sb.String(), Messages: messages}
}

// BlockedNarrative is the canned reply used when a story mission blocks the
// storyline and the action never reaches the model.
func BlockedNarrative(missionTitle, missionDescription string) string {
	return fmt.Sprintf(
		"The story holds its breath. Before anything else can happen, you must resolve the matter at hand: %s. %s",
		missionTitle, missionDescription)
}

// ContinuationAction is the synthesized player action submitted after a
// blocking story mission is completed or abandoned, prompting the model to
// produce the next story beat.
const ContinuationAction = "the story continues"

// UseItemAction synthesizes the player action for the use-item flow.
func UseItemAction(itemName string) string {
	return "我使用了" + itemName
}
