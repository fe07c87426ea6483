package prompt

import (
	"strings"
	"testing"

	"github.com/joffreyzhang/kurangame/internal/game"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

func testWorld() (*game.Lore, *game.Player, game.Scenes) {
	lore := &game.Lore{
		Title:      "The Shattered Realm",
		TimePeriod: "late medieval",
		Background: []string{"Centuries ago the realm broke into warring provinces."},
		CurrentTime: game.GameTime{
			Year: 412, MonthIndex: 3, DayIndex: 11, HourIndex: 9,
		},
		Eras: []game.Era{{Title: "Age of Embers", StartYear: 400, EndYear: 499, Description: "An uneasy peace."}},
	}
	player := &game.Player{
		Profile:        game.Profile{Name: "Alice", Age: 23, Gender: "female"},
		Attributes:     map[string]int{"health": 80},
		Inventory:      []game.InventoryItem{{ID: "i1", Name: "Gold Coin", Quantity: 3}},
		Currency:       50,
		Location:       "village",
		UnlockedScenes: []string{"village"},
		Network:        map[string]int{"Bob": 10},
	}
	scenes := game.Scenes{
		"village": &game.Scene{
			Name:        "Riverside Village",
			Description: "A cluster of timber houses by the ford.",
			NPCs: []game.NPC{
				{ID: "n1", Name: "Bob", Job: "blacksmith", Description: "Broad-shouldered and wary.", Relationship: 10},
			},
			Buildings: []game.Building{
				{ID: "b1", Name: "The Forge", Type: "workshop", Description: "Smoke rises from the chimney.",
					Features: []game.Feature{{ID: "f1", Name: "Anvil", Description: "Well worn."}}},
			},
		},
	}
	return lore, player, scenes
}

// TestBuildActionSections checks that every context section lands in the
// system prompt.
func TestBuildActionSections(t *testing.T) {
	lore, player, scenes := testWorld()
	b := NewBuilder()

	p := b.BuildAction(ActionContext{
		Lore: lore, Player: player, Scenes: scenes,
		Style:  StyleDramatic,
		Action: "look around",
	})

	for _, want := range []string{
		"The Shattered Realm",
		"Age of Embers",
		"Alice",
		"Gold Coin x3",
		"Riverside Village",
		"Bob (blacksmith",
		"The Forge",
		"Anvil",
		"[NARRATION:",
		"[CHANGE: RELATIONSHIP",
		"获得",
		styleDirectives[StyleDramatic],
	} {
		if !strings.Contains(p.System, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}

	if len(p.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(p.Messages))
	}
	last := p.Messages[len(p.Messages)-1]
	if last.Role != types.RoleUser || last.Content != "look around" {
		t.Errorf("final message should be the action: %+v", last)
	}
}

// TestBuildActionFirstTurn checks the [INIT] directive.
func TestBuildActionFirstTurn(t *testing.T) {
	lore, player, scenes := testWorld()
	b := NewBuilder()

	with := b.BuildAction(ActionContext{Lore: lore, Player: player, Scenes: scenes, Style: DefaultStyle, Action: "begin", FirstTurn: true})
	without := b.BuildAction(ActionContext{Lore: lore, Player: player, Scenes: scenes, Style: DefaultStyle, Action: "begin"})

	if !strings.Contains(with.System, "[INIT]") {
		t.Error("first turn should carry the [INIT] directive")
	}
	if strings.Contains(without.System, "[INIT]") {
		t.Error("later turns must not carry the [INIT] directive")
	}
}

// TestBuildActionMissions checks that active missions are phrased as objectives.
func TestBuildActionMissions(t *testing.T) {
	lore, player, scenes := testWorld()
	b := NewBuilder()

	p := b.BuildAction(ActionContext{
		Lore: lore, Player: player, Scenes: scenes, Style: DefaultStyle, Action: "go",
		ActiveMissions: []MissionContext{
			{Title: "Repay the debt", Description: "Bob wants his money.", Objectives: []string{"pay 50 currency"}},
		},
	})
	if !strings.Contains(p.System, "Repay the debt") || !strings.Contains(p.System, "pay 50 currency") {
		t.Error("active mission not rendered")
	}
}

// TestBoundHistoryBudget checks that the oldest messages are dropped first.
func TestBoundHistoryBudget(t *testing.T) {
	b := NewBuilder(WithHistoryBudget(15)) // fits roughly two short messages

	history := []types.Message{
		{Role: types.RoleUser, Content: "oldest message"},
		{Role: types.RoleAssistant, Content: "middle reply"},
		{Role: types.RoleUser, Content: "newest"},
	}
	got := b.boundHistory(history)
	if len(got) == 0 {
		t.Fatal("expected at least the newest message")
	}
	if got[len(got)-1].Content != "newest" {
		t.Errorf("newest message must survive: %+v", got)
	}
	if len(got) == len(history) {
		t.Errorf("budget of 30 should have dropped the oldest message")
	}
}

// TestBoundHistoryTurnCap checks the hard turn cap.
func TestBoundHistoryTurnCap(t *testing.T) {
	b := NewBuilder(WithHistoryBudget(1 << 20))
	history := make([]types.Message, MaxHistoryTurns+10)
	for i := range history {
		history[i] = types.Message{Role: types.RoleUser, Content: "x"}
	}
	got := b.boundHistory(history)
	if len(got) != MaxHistoryTurns {
		t.Errorf("expected %d messages, got %d", MaxHistoryTurns, len(got))
	}
}

// TestParseStyle checks the closed-set validation.
func TestParseStyle(t *testing.T) {
	tests := []struct {
		raw     string
		want    Style
		wantErr bool
	}{
		{"", DefaultStyle, false},
		{"literary", StyleLiterary, false},
		{"thriller", StyleThriller, false},
		{"delicate_psychological", StyleDelicatePsychological, false},
		{"noir", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseStyle(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStyle(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// TestStyleDirectiveFallback checks unknown styles fall back to the default.
func TestStyleDirectiveFallback(t *testing.T) {
	if Style("bogus").Directive() != DefaultStyle.Directive() {
		t.Error("unknown style should use the default directive")
	}
}

// TestBuildMission checks the JSON contract directive and context wiring.
func TestBuildMission(t *testing.T) {
	lore, player, scenes := testWorld()
	b := NewBuilder()

	p := b.BuildMission(MissionRequest{
		Lore: lore, Player: player, Scenes: scenes,
		TurnCount: 7,
		StoryBeat: "Bob has asked for help at the forge.",
	})
	for _, want := range []string{`"paths"`, `"requirements"`, `"rewards"`, "Bob has asked", "turn 7"} {
		joined := p.System + " " + p.Messages[len(p.Messages)-1].Content
		if !strings.Contains(joined, want) {
			t.Errorf("mission prompt missing %q", want)
		}
	}
}

// TestBuildNPCChat checks in-character framing and recalled memories.
func TestBuildNPCChat(t *testing.T) {
	lore, player, scenes := testWorld()
	b := NewBuilder()

	npc := &scenes["village"].NPCs[0]
	p := b.BuildNPCChat(NPCChatRequest{
		Lore: lore, Player: player, NPC: npc, Scene: scenes["village"],
		Recalled:   []string{"You once lent the player a hammer."},
		Transcript: []types.Message{{Role: types.RoleUser, Content: "hello"}},
		Message:    "Do you remember me?",
	})
	for _, want := range []string{"You are Bob", "blacksmith", "lent the player a hammer", "spoken words only"} {
		if !strings.Contains(p.System, want) {
			t.Errorf("npc chat prompt missing %q", want)
		}
	}
	if p.Messages[len(p.Messages)-1].Content != "Do you remember me?" {
		t.Errorf("final message should be the player's line")
	}
}

// TestHelpers checks the canned-text helpers.
func TestHelpers(t *testing.T) {
	if got := UseItemAction("Healing Potion"); got != "我使用了Healing Potion" {
		t.Errorf("UseItemAction: %q", got)
	}
	blocked := BlockedNarrative("Repay the debt", "Bob wants his money.")
	if !strings.Contains(blocked, "Repay the debt") {
		t.Errorf("BlockedNarrative should name the mission: %q", blocked)
	}
}
