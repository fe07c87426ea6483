// Package prompt assembles the message lists sent to the language model:
// the action prompt driving the narrative loop, the mission-generation
// prompt, and the NPC chat prompt. All three share the same structural
// layout (world context → player context → task directive) but differ in
// their output-grammar directives.
package prompt

import (
	"fmt"
	"strings"

	"github.com/joffreyzhang/kurangame/internal/game"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

// Defaults for history bounding. The history budget is an estimated token
// count over the trailing conversation window; MaxHistoryTurns is the hard
// cap on retained turns regardless of budget.
const (
	DefaultHistoryBudget = 2000
	MaxHistoryTurns      = 40
)

// loreBackgroundLimit bounds how much lore background text enters the system
// prompt, in runes.
const loreBackgroundLimit = 1200

// Builder assembles prompts. Safe for concurrent use; it carries only
// configuration.
type Builder struct {
	historyBudget int
}

// Option configures a Builder.
type Option func(*Builder)

// WithHistoryBudget overrides the estimated-token budget for conversation
// history included in action prompts.
func WithHistoryBudget(tokens int) Option {
	return func(b *Builder) {
		b.historyBudget = tokens
	}
}

// NewBuilder creates a Builder with default bounds.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{historyBudget: DefaultHistoryBudget}
	for _, o := range opts {
		o(b)
	}
	return b
}

// MissionContext summarizes one active mission for the system prompt.
type MissionContext struct {
	Title       string
	Description string
	Objectives  []string
}

// ActionContext carries everything the action prompt needs for one turn.
type ActionContext struct {
	Lore           *game.Lore
	Player         *game.Player
	Scenes         game.Scenes
	Style          Style
	ActiveMissions []MissionContext
	History        []types.Message
	Action         string
	FirstTurn      bool
}

// ActionPrompt is the assembled request for one narrative turn.
type ActionPrompt struct {
	System   string
	Messages []types.Message
}

// BuildAction assembles the system prompt and message list for a player
// action. The final user message is the action verbatim; preceding messages
// are the bounded conversation history.
func (b *Builder) BuildAction(ctx ActionContext) ActionPrompt {
	var sb strings.Builder

	sb.WriteString("You are the narrative engine of an interactive-fiction game. ")
	sb.WriteString("You expand each player action into a short sequence of typed narrative steps, ")
	sb.WriteString("advancing the story while staying strictly consistent with the world state below.\n\n")

	writeWorldSection(&sb, ctx.Lore)
	writePlayerSection(&sb, ctx.Player)
	writeSceneSection(&sb, ctx.Player, ctx.Scenes)

	sb.WriteString("## Literary style\n")
	sb.WriteString(ctx.Style.Directive())
	sb.WriteString("\n\n")

	sb.WriteString(stepGrammarDirective)

	if len(ctx.ActiveMissions) > 0 {
		sb.WriteString("\n## Active missions\n")
		sb.WriteString("The player is pursuing these missions. Weave opportunities to progress them into the narrative when natural:\n")
		for _, m := range ctx.ActiveMissions {
			fmt.Fprintf(&sb, "- %s: %s\n", m.Title, m.Description)
			for _, obj := range m.Objectives {
				fmt.Fprintf(&sb, "  - objective: %s\n", obj)
			}
		}
	}

	if ctx.FirstTurn {
		sb.WriteString("\n[INIT] This is the first turn of the session. Open with an establishing narration that grounds the player in the current scene and era before responding to the action.\n")
	}

	messages := b.boundHistory(ctx.History)
	messages = append(messages, types.Message{Role: types.RoleUser, Content: ctx.Action})

	return ActionPrompt{System: sb.String(), Messages: messages}
}

// boundHistory returns the trailing window of history that fits the token
// budget and the turn cap. The newest messages win.
func (b *Builder) boundHistory(history []types.Message) []types.Message {
	if len(history) > MaxHistoryTurns {
		history = history[len(history)-MaxHistoryTurns:]
	}
	// Walk backwards accumulating the estimate until the budget is spent.
	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := estimateTokens(history[i].Content)
		if total+cost > b.historyBudget {
			break
		}
		total += cost
		start = i
	}
	out := make([]types.Message, len(history)-start)
	copy(out, history[start:])
	return out
}

// estimateTokens is the ~4-chars-per-token estimate plus per-message overhead.
func estimateTokens(content string) int {
	return (len(content)+3)/4 + 4
}

// writeWorldSection renders the lore context.
func writeWorldSection(sb *strings.Builder, lore *game.Lore) {
	if lore == nil {
		return
	}
	sb.WriteString("## World\n")
	if lore.Title != "" {
		fmt.Fprintf(sb, "Title: %s\n", lore.Title)
	}
	if lore.TimePeriod != "" {
		fmt.Fprintf(sb, "Time period: %s\n", lore.TimePeriod)
	}
	t := lore.CurrentTime
	fmt.Fprintf(sb, "Current game time: year %d, month %d, day %d, hour %d\n",
		t.Year, t.MonthIndex+1, t.DayIndex+1, t.HourIndex)
	if era := lore.CurrentEra(); era != nil {
		fmt.Fprintf(sb, "Current era: %s (%d–%d). %s\n", era.Title, era.StartYear, era.EndYear, era.Description)
	}
	if bg := truncateRunes(strings.Join(lore.Background, " "), loreBackgroundLimit); bg != "" {
		fmt.Fprintf(sb, "Background: %s\n", bg)
	}
	if len(lore.KeyEvents) > 0 {
		sb.WriteString("Key events:\n")
		for _, ev := range lore.KeyEvents {
			fmt.Fprintf(sb, "- year %d, %s: %s\n", ev.Year, ev.Title, ev.Description)
		}
	}
	sb.WriteString("\n")
}

// writePlayerSection renders the player context.
func writePlayerSection(sb *strings.Builder, p *game.Player) {
	if p == nil {
		return
	}
	sb.WriteString("## Player\n")
	fmt.Fprintf(sb, "Name: %s, age %d, %s\n", p.Profile.Name, p.Profile.Age, p.Profile.Gender)
	if len(p.Attributes) > 0 {
		sb.WriteString("Attributes: ")
		sb.WriteString(formatIntMap(p.Attributes))
		sb.WriteString("\n")
	}
	fmt.Fprintf(sb, "Currency: %d\n", p.Currency)
	if len(p.Inventory) > 0 {
		sb.WriteString("Inventory:\n")
		for _, it := range p.Inventory {
			fmt.Fprintf(sb, "- %s x%d", it.Name, it.Quantity)
			if it.Description != "" {
				fmt.Fprintf(sb, " (%s)", it.Description)
			}
			sb.WriteString("\n")
		}
	}
	fmt.Fprintf(sb, "Location: %s\n", p.Location)
	if len(p.UnlockedScenes) > 0 {
		fmt.Fprintf(sb, "Unlocked scenes: %s\n", strings.Join(p.UnlockedScenes, ", "))
	}
	if len(p.Network) > 0 {
		sb.WriteString("Relationships: ")
		sb.WriteString(formatIntMap(p.Network))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

// writeSceneSection renders the player's current scene in detail.
func writeSceneSection(sb *strings.Builder, p *game.Player, scenes game.Scenes) {
	if p == nil || scenes == nil {
		return
	}
	scene, ok := scenes[p.Location]
	if !ok {
		return
	}
	sb.WriteString("## Current scene\n")
	fmt.Fprintf(sb, "%s: %s\n", scene.Name, scene.Description)
	if len(scene.NPCs) > 0 {
		sb.WriteString("NPCs present:\n")
		for _, npc := range scene.NPCs {
			fmt.Fprintf(sb, "- %s (%s", npc.Name, npc.Job)
			if npc.Age > 0 {
				fmt.Fprintf(sb, ", age %d", npc.Age)
			}
			fmt.Fprintf(sb, "): %s [relationship %d]\n", npc.Description, npc.Relationship)
		}
	}
	if len(scene.Buildings) > 0 {
		sb.WriteString("Buildings:\n")
		for _, bld := range scene.Buildings {
			fmt.Fprintf(sb, "- %s (%s): %s\n", bld.Name, bld.Type, bld.Description)
			for _, f := range bld.Features {
				fmt.Fprintf(sb, "  - %s: %s\n", f.Name, f.Description)
			}
		}
	}
	sb.WriteString("\n")
}

// formatIntMap renders a name→int map as "a=1, b=2" with stable-enough
// readability for prompts (ordering is not significant to the model).
func formatIntMap(m map[string]int) string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%s=%d", k, v))
	}
	return strings.Join(parts, ", ")
}

// truncateRunes bounds s to at most n runes, appending an ellipsis when cut.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// stepGrammarDirective is the output-format contract the action prompt
// imposes on the model. It mirrors the parser's grammar exactly.
const stepGrammarDirective = `## Output format
Respond ONLY with lines in the following marker grammar, one marker per line:

[MISSION: true|false]
  Emit exactly once, first. Set true only when this beat should spawn a new mission.
[NARRATION: text]
  One beat of narration.
[DIALOGUE: characterId, "spoken text"]
  One line spoken by an NPC. characterId is the NPC's name or id.
[HINT: text]
  A short note that game state changes now. Immediately after a HINT, list the changes:
  [CHANGE: 玩家, attributeName, ±N]            — player attribute change
  [CHANGE: RELATIONSHIP, npcName, ±N]          — relationship change, -100..100
  [CHANGE: itemName, 获得, N]                  — the player acquires N of the item
  [CHANGE: itemName, 丢失, N]                  — the player loses N of the item
[CHOICE: title]
  Open a set of explicit options for the player. Free lines before the options
  become the choice description. Then:
  [OPTION: option text]   (one per option, at least one)
  [END_CHOICE]

Rules: keep 2–6 steps per reply; never invent items, scenes, or NPCs that are
absent from the world state; attribute and relationship changes must be small
(|N| ≤ 10) and justified by the narration.
`
