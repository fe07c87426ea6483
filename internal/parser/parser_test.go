package parser

import (
	"reflect"
	"strings"
	"testing"
)

// TestParseNarration checks the basic narration marker.
func TestParseNarration(t *testing.T) {
	r := Parse("[NARRATION: You wake up in a small village.]")
	if len(r.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(r.Steps))
	}
	s := r.Steps[0]
	if s.Type != StepNarration || s.Text != "You wake up in a small village." {
		t.Errorf("unexpected step: %+v", s)
	}
}

// TestParseDialogue checks the dialogue marker with quoted text.
func TestParseDialogue(t *testing.T) {
	r := Parse(`[DIALOGUE: npc_bob, "Welcome, stranger."]`)
	if len(r.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(r.Steps))
	}
	s := r.Steps[0]
	if s.Type != StepDialogue {
		t.Fatalf("expected dialogue, got %s", s.Type)
	}
	if s.CharacterID != "npc_bob" {
		t.Errorf("characterId: got %q", s.CharacterID)
	}
	if s.Text != "Welcome, stranger." {
		t.Errorf("text: got %q", s.Text)
	}
}

// TestParseHintWithChanges checks that CHANGE lines are absorbed into the
// preceding hint and aggregated into deltas.
func TestParseHintWithChanges(t *testing.T) {
	input := strings.Join([]string{
		"[HINT: You find gold and feel stronger.]",
		"[CHANGE: gold, 获得, 5]",
		"[CHANGE: player, strength, +2]",
		"[CHANGE: RELATIONSHIP, Bob, +10]",
	}, "\n")

	r := Parse(input)
	if len(r.Steps) != 1 {
		t.Fatalf("expected 1 hint step, got %d steps", len(r.Steps))
	}
	hint := r.Steps[0]
	if hint.Type != StepHint || len(hint.Changes) != 3 {
		t.Fatalf("unexpected hint: %+v", hint)
	}

	if r.Deltas.Attributes["strength"] != 2 {
		t.Errorf("strength delta: got %d, want 2", r.Deltas.Attributes["strength"])
	}
	if r.Deltas.Relationships["Bob"] != 10 {
		t.Errorf("Bob delta: got %d, want 10", r.Deltas.Relationships["Bob"])
	}
	if len(r.Deltas.Items) != 1 {
		t.Fatalf("expected 1 item delta, got %d", len(r.Deltas.Items))
	}
	it := r.Deltas.Items[0]
	if it.Name != "gold" || it.Action != ItemAcquire || it.Quantity != 5 {
		t.Errorf("item delta: %+v", it)
	}
}

// TestParseItemVerbAliases checks the localized verbs and English aliases.
func TestParseItemVerbAliases(t *testing.T) {
	tests := []struct {
		verb string
		want ItemAction
	}{
		{"获得", ItemAcquire},
		{"acquire", ItemAcquire},
		{"gain", ItemAcquire},
		{"丢失", ItemLose},
		{"lose", ItemLose},
	}
	for _, tt := range tests {
		t.Run(tt.verb, func(t *testing.T) {
			r := Parse("[HINT: change]\n[CHANGE: apple, " + tt.verb + ", 2]")
			if len(r.Deltas.Items) != 1 {
				t.Fatalf("no item delta parsed for verb %q", tt.verb)
			}
			if r.Deltas.Items[0].Action != tt.want {
				t.Errorf("verb %q: got %q, want %q", tt.verb, r.Deltas.Items[0].Action, tt.want)
			}
		})
	}
}

// TestParseNPCAttributeNotAggregated checks that attribute changes targeting
// an NPC stay in the step but do not enter the player delta bundle.
func TestParseNPCAttributeNotAggregated(t *testing.T) {
	r := Parse("[HINT: Bob toughens up]\n[CHANGE: Bob, strength, +3]")
	if len(r.Steps) != 1 || len(r.Steps[0].Changes) != 1 {
		t.Fatalf("expected change kept in step: %+v", r.Steps)
	}
	if len(r.Deltas.Attributes) != 0 {
		t.Errorf("NPC attribute leaked into player deltas: %+v", r.Deltas.Attributes)
	}
}

// TestParsePlayerAliases checks all recognized player actor tokens.
func TestParsePlayerAliases(t *testing.T) {
	for _, alias := range []string{"玩家", "player", "hero", "Player", "HERO"} {
		t.Run(alias, func(t *testing.T) {
			r := Parse("[HINT: x]\n[CHANGE: " + alias + ", luck, +1]")
			if r.Deltas.Attributes["luck"] != 1 {
				t.Errorf("alias %q not recognized as player", alias)
			}
		})
	}
}

// TestParseStrayChange checks that a CHANGE without a preceding HINT is not lost.
func TestParseStrayChange(t *testing.T) {
	r := Parse("[CHANGE: player, health, -5]")
	if len(r.Steps) != 1 || r.Steps[0].Type != StepHint {
		t.Fatalf("expected synthetic hint step, got %+v", r.Steps)
	}
	if r.Deltas.Attributes["health"] != -5 {
		t.Errorf("health delta: got %d, want -5", r.Deltas.Attributes["health"])
	}
}

// TestParseChoiceBlock checks title, description accumulation, and options.
func TestParseChoiceBlock(t *testing.T) {
	input := strings.Join([]string{
		"[CHOICE: What do you do?]",
		"The merchant waits for your answer.",
		"[OPTION: Buy the sword]",
		"[OPTION: Walk away]",
		"[END_CHOICE]",
	}, "\n")

	r := Parse(input)
	if len(r.Steps) != 1 {
		t.Fatalf("expected 1 choice step, got %d", len(r.Steps))
	}
	c := r.Steps[0]
	if c.Type != StepChoice || c.Title != "What do you do?" {
		t.Errorf("unexpected choice: %+v", c)
	}
	if c.Text != "The merchant waits for your answer." {
		t.Errorf("description: got %q", c.Text)
	}
	if !reflect.DeepEqual(c.Options, []string{"Buy the sword", "Walk away"}) {
		t.Errorf("options: %v", c.Options)
	}
	if !reflect.DeepEqual(r.Options, []string{"Buy the sword", "Walk away"}) {
		t.Errorf("result options: %v", r.Options)
	}
}

// TestParseChoiceWithoutOptionsDiscarded checks the zero-option rule.
func TestParseChoiceWithoutOptionsDiscarded(t *testing.T) {
	r := Parse("[CHOICE: Empty choice]\n[END_CHOICE]")
	if len(r.Steps) != 0 {
		t.Errorf("expected empty choice discarded, got %+v", r.Steps)
	}
}

// TestParseMissionFlag checks that the flag is consumed, not emitted.
func TestParseMissionFlag(t *testing.T) {
	r := Parse("[MISSION: true]\n[NARRATION: A quest appears.]")
	if !r.MissionFlag {
		t.Error("expected MissionFlag=true")
	}
	if len(r.Steps) != 1 || r.Steps[0].Type != StepNarration {
		t.Errorf("mission flag leaked into steps: %+v", r.Steps)
	}

	r2 := Parse("[MISSION: false]\n[NARRATION: Quiet day.]")
	if r2.MissionFlag {
		t.Error("expected MissionFlag=false")
	}
}

// TestParseUnmarkedLines checks narration coercion and the bare-dialogue heuristic.
func TestParseUnmarkedLines(t *testing.T) {
	input := strings.Join([]string{
		"The rain keeps falling.",
		`Bob: "We should head inside."`,
		"Bob walks toward the tavern.",
	}, "\n")

	r := Parse(input)
	if len(r.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(r.Steps))
	}
	if r.Steps[0].Type != StepNarration {
		t.Errorf("line 1 should be narration: %+v", r.Steps[0])
	}
	if r.Steps[1].Type != StepDialogue || r.Steps[1].CharacterID != "Bob" {
		t.Errorf("line 2 should be Bob dialogue: %+v", r.Steps[1])
	}
	if r.Steps[1].Text != "We should head inside." {
		t.Errorf("dialogue text: got %q", r.Steps[1].Text)
	}
	if r.Steps[2].Type != StepNarration {
		t.Errorf("line 3 should be narration: %+v", r.Steps[2])
	}
}

// TestParseUnknownMarker checks that unrecognized markers degrade to narration.
func TestParseUnknownMarker(t *testing.T) {
	r := Parse("[WEATHER: It starts to snow.]")
	if len(r.Steps) != 1 || r.Steps[0].Type != StepNarration {
		t.Errorf("unknown marker should coerce to narration: %+v", r.Steps)
	}
}

// TestParseMalformedChangeIgnored checks that bad CHANGE bodies are dropped
// without failing the parse.
func TestParseMalformedChangeIgnored(t *testing.T) {
	r := Parse("[HINT: odd]\n[CHANGE: not enough parts]\n[CHANGE: thing, 获得, many]")
	if len(r.Steps) != 1 {
		t.Fatalf("expected hint step, got %+v", r.Steps)
	}
	if len(r.Steps[0].Changes) != 0 {
		t.Errorf("malformed changes kept: %+v", r.Steps[0].Changes)
	}
	if !r.Deltas.Empty() {
		t.Errorf("expected empty deltas, got %+v", r.Deltas)
	}
}

// TestParseMixedReply checks a realistic full reply in document order.
func TestParseMixedReply(t *testing.T) {
	input := strings.Join([]string{
		"[MISSION: false]",
		"[NARRATION: You enter the smoky tavern.]",
		`[DIALOGUE: npc_innkeeper, "What'll it be?"]`,
		"[HINT: You pay for a meal.]",
		"[CHANGE: player, energy, +10]",
		"[CHANGE: bread, 获得, 1]",
		"[CHOICE: Evening plans]",
		"[OPTION: Rent a room]",
		"[OPTION: Listen for rumors]",
		"[END_CHOICE]",
	}, "\n")

	r := Parse(input)
	wantTypes := []StepType{StepNarration, StepDialogue, StepHint, StepChoice}
	if len(r.Steps) != len(wantTypes) {
		t.Fatalf("expected %d steps, got %d: %+v", len(wantTypes), len(r.Steps), r.Steps)
	}
	for i, wt := range wantTypes {
		if r.Steps[i].Type != wt {
			t.Errorf("step %d: got %s, want %s", i, r.Steps[i].Type, wt)
		}
	}
	if r.Deltas.Attributes["energy"] != 10 {
		t.Errorf("energy delta: %d", r.Deltas.Attributes["energy"])
	}
	if len(r.Options) != 2 {
		t.Errorf("options: %v", r.Options)
	}
}

// TestFormatRoundTrip checks the grammar law: formatting a canonical step
// sequence and re-parsing it yields the same steps and deltas.
func TestFormatRoundTrip(t *testing.T) {
	steps := []Step{
		{Type: StepNarration, Text: "You cross the bridge."},
		{Type: StepDialogue, CharacterID: "npc_guard", Text: "Halt! State your business."},
		{Type: StepHint, Text: "The toll is paid.", Changes: []Change{
			{Kind: ChangeItem, Item: "coin", Action: ItemLose, Quantity: 2},
			{Kind: ChangeAttribute, Actor: "player", Attribute: "reputation", Delta: 1},
			{Kind: ChangeRelationship, NPC: "Guard", Delta: 5},
		}},
		{Type: StepChoice, Title: "Next move", Text: "The road forks ahead.", Options: []string{"Go north", "Go east"}},
	}

	text := FormatSteps(steps)
	r := Parse(text)

	if len(r.Steps) != len(steps) {
		t.Fatalf("round trip step count: got %d, want %d\n%s", len(r.Steps), len(steps), text)
	}
	for i := range steps {
		if !reflect.DeepEqual(r.Steps[i], steps[i]) {
			t.Errorf("step %d mismatch:\n got %+v\nwant %+v", i, r.Steps[i], steps[i])
		}
	}
	if r.Deltas.Attributes["reputation"] != 1 {
		t.Errorf("reputation delta lost in round trip")
	}
	if r.Deltas.Relationships["Guard"] != 5 {
		t.Errorf("relationship delta lost in round trip")
	}
	if len(r.Deltas.Items) != 1 || r.Deltas.Items[0].Action != ItemLose {
		t.Errorf("item delta lost in round trip: %+v", r.Deltas.Items)
	}
}

// TestParseEmptyInput checks graceful handling of empty and whitespace input.
func TestParseEmptyInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\n\n"} {
		r := Parse(input)
		if len(r.Steps) != 0 || !r.Deltas.Empty() || r.MissionFlag {
			t.Errorf("input %q: expected empty result, got %+v", input, r)
		}
	}
}
