package prompt

import (
	"fmt"
	"strings"

	"github.com/joffreyzhang/kurangame/internal/game"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

// MissionRequest carries the context for generating one new mission.
type MissionRequest struct {
	Lore          *game.Lore
	Player        *game.Player
	Scenes        game.Scenes
	RecentHistory []types.Message
	TurnCount     int
	// StoryBeat hints at what the narrative is doing right now (usually the
	// last assistant reply), so the mission ties into the current beat.
	StoryBeat string
}

// BuildMission assembles the mission-generation prompt. The model is asked
// for a single JSON object; the mission engine validates and falls back when
// the reply is not parseable.
func (b *Builder) BuildMission(req MissionRequest) ActionPrompt {
	var sb strings.Builder

	sb.WriteString("You are the quest designer of an interactive-fiction game. ")
	sb.WriteString("Design ONE new mission that fits the current world state and story beat.\n\n")

	writeWorldSection(&sb, req.Lore)
	writePlayerSection(&sb, req.Player)
	writeSceneSection(&sb, req.Player, req.Scenes)

	if req.StoryBeat != "" {
		sb.WriteString("## Current story beat\n")
		sb.WriteString(truncateRunes(req.StoryBeat, 800))
		sb.WriteString("\n\n")
	}

	sb.WriteString(missionGrammarDirective)

	var user strings.Builder
	fmt.Fprintf(&user, "Generate one mission for turn %d.", req.TurnCount)
	user.WriteString(" Ground every requirement in items, NPCs, scenes, and flags that exist in the world state above.")

	messages := append(b.boundHistory(req.RecentHistory),
		types.Message{Role: types.RoleUser, Content: user.String()})

	return ActionPrompt{System: sb.String(), Messages: messages}
}

// missionGrammarDirective is the JSON contract for mission generation.
const missionGrammarDirective = `## Output format
Respond ONLY with a single JSON object, no markdown fences, matching:

{
  "type": "side" | "story",
  "title": "short mission title",
  "description": "one-paragraph mission description",
  "paths": [
    {
      "id": "path_1",
      "name": "how this path is completed, as a short label",
      "requirements": {
        "items": [{"name": "item name", "qty": 1}],
        "currency": 0,
        "relationships": [{"npc": "npc name", "minLevel": 0}],
        "location": "scene id",
        "flags": {"key": "value"}
      },
      "rewards": {
        "items": [{"name": "item name", "qty": 1}],
        "currency": 0,
        "relationships": [{"npc": "npc name", "delta": 0}],
        "attributes": {"attributeName": 0}
      }
    }
  ]
}

Rules: 1 to 3 paths; omit requirement fields that do not apply; "story"
missions block the main storyline until resolved, so use them sparingly —
prefer "side". Requirements must be achievable from the current state.
`
