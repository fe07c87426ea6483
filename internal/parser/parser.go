// Package parser converts an LLM reply into an ordered list of typed
// narrative steps plus an aggregated bundle of state deltas.
//
// The grammar is line-oriented. Each trimmed line either matches one of the
// bracket markers ([NARRATION: …], [DIALOGUE: …], [HINT: …], [CHANGE: …],
// [CHOICE: …], [OPTION: …], [END_CHOICE], [MISSION: …]) or is coerced to a
// narration step. The parser never fails on malformed content; whatever the
// model emits becomes some sequence of steps.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// StepType tags the narrative step variants.
type StepType string

// Step variants emitted by the parser.
const (
	StepNarration StepType = "narration"
	StepDialogue  StepType = "dialogue"
	StepHint      StepType = "hint"
	StepChoice    StepType = "choice"
)

// Step is one atomic narrative unit. It is a tagged variant: Type selects
// which fields are meaningful.
type Step struct {
	Type StepType `json:"type"`

	// Text is the narration or hint body, or the spoken line for dialogue.
	Text string `json:"text,omitempty"`

	// CharacterID identifies the speaker of a dialogue step.
	CharacterID string `json:"characterId,omitempty"`

	// Changes holds the state changes absorbed into a hint step.
	Changes []Change `json:"changes,omitempty"`

	// Title and Options belong to choice steps. Text carries the accumulated
	// choice description.
	Title   string   `json:"title,omitempty"`
	Options []string `json:"options,omitempty"`
}

// ChangeKind tags the three CHANGE shapes.
type ChangeKind string

// Change shapes.
const (
	ChangeAttribute    ChangeKind = "attribute"
	ChangeRelationship ChangeKind = "relationship"
	ChangeItem         ChangeKind = "item"
)

// ItemAction is the direction of an inventory change.
type ItemAction string

// Inventory change directions. The canonical verbs are the localized 获得
// (acquire) and 丢失 (lose); English aliases are accepted on input.
const (
	ItemAcquire ItemAction = "acquire"
	ItemLose    ItemAction = "lose"
)

// Change is one parsed [CHANGE: …] line.
type Change struct {
	Kind ChangeKind `json:"kind"`

	// Actor and Attribute describe an attribute change. Actor is the raw
	// actor token; IsPlayerActor reports whether it names the player.
	Actor     string `json:"actor,omitempty"`
	Attribute string `json:"attribute,omitempty"`
	Delta     int    `json:"delta,omitempty"`

	// NPC names the target of a relationship change (Delta reused).
	NPC string `json:"npc,omitempty"`

	// Item, Action, and Quantity describe an inventory change.
	Item     string     `json:"item,omitempty"`
	Action   ItemAction `json:"action,omitempty"`
	Quantity int        `json:"quantity,omitempty"`
}

// ItemDelta is one aggregated inventory change.
type ItemDelta struct {
	Name     string     `json:"name"`
	Action   ItemAction `json:"action"`
	Quantity int        `json:"quantity"`
}

// Deltas is the aggregated state-change bundle produced from all hint steps
// of a reply. Attribute deltas are summed per attribute name (player actor
// only); relationship deltas are summed per NPC name.
type Deltas struct {
	Attributes    map[string]int `json:"attributes,omitempty"`
	Relationships map[string]int `json:"relationships,omitempty"`
	Items         []ItemDelta    `json:"items,omitempty"`
}

// Empty reports whether the bundle contains no changes at all.
func (d Deltas) Empty() bool {
	return len(d.Attributes) == 0 && len(d.Relationships) == 0 && len(d.Items) == 0
}

// Result is the full output of one Parse call.
type Result struct {
	// Steps is the ordered narrative sequence.
	Steps []Step

	// Deltas aggregates the state changes from all hint steps.
	Deltas Deltas

	// MissionFlag is true when the reply contained [MISSION: true].
	MissionFlag bool

	// Options collects every choice option in document order, for the
	// client's action-options panel.
	Options []string
}

// playerAliases are the actor tokens that address the player character.
var playerAliases = map[string]bool{
	"玩家":     true,
	"player": true,
	"hero":   true,
}

// IsPlayerActor reports whether the actor token names the player.
func IsPlayerActor(actor string) bool {
	return playerAliases[strings.ToLower(strings.TrimSpace(actor))]
}

// itemVerbs maps accepted inventory verbs to their canonical action.
var itemVerbs = map[string]ItemAction{
	"获得":      ItemAcquire,
	"acquire": ItemAcquire,
	"gain":    ItemAcquire,
	"obtain":  ItemAcquire,
	"丢失":      ItemLose,
	"lose":    ItemLose,
	"drop":    ItemLose,
}

// dialogueLineRe recognizes unmarked `Name: "text"` dialogue lines, with
// ASCII or fullwidth colons and straight or curly quotes.
var dialogueLineRe = regexp.MustCompile(`^([^:：\[\]]{1,40})[:：]\s*["“](.+?)["”]$`)

// Parse converts the reply text into steps and aggregated deltas. It never
// returns an error: unknown markers and malformed lines degrade to narration.
func Parse(text string) *Result {
	p := &parseState{result: &Result{}}
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		p.consume(line)
	}
	p.flush()
	p.aggregate()
	return p.result
}

// parseState carries the open hint/choice blocks across lines.
type parseState struct {
	result *Result

	hint   *Step // open hint absorbing CHANGE lines
	choice *Step // open choice absorbing description and OPTION lines
}

// consume routes one non-empty trimmed line.
func (p *parseState) consume(line string) {
	switch {
	case hasMarker(line, "MISSION"):
		p.flush()
		flag := strings.TrimSpace(markerBody(line, "MISSION"))
		if strings.EqualFold(flag, "true") {
			p.result.MissionFlag = true
		}

	case hasMarker(line, "NARRATION"):
		p.flush()
		p.result.Steps = append(p.result.Steps, Step{
			Type: StepNarration,
			Text: strings.TrimSpace(markerBody(line, "NARRATION")),
		})

	case hasMarker(line, "DIALOGUE"):
		p.flush()
		p.result.Steps = append(p.result.Steps, parseDialogue(markerBody(line, "DIALOGUE")))

	case hasMarker(line, "HINT"):
		p.flush()
		p.hint = &Step{
			Type: StepHint,
			Text: strings.TrimSpace(markerBody(line, "HINT")),
		}

	case hasMarker(line, "CHANGE"):
		// A stray CHANGE with no open hint gets a synthetic one so the
		// state change is never lost.
		if p.hint == nil {
			p.closeChoice()
			p.hint = &Step{Type: StepHint}
		}
		if c, ok := parseChange(markerBody(line, "CHANGE")); ok {
			p.hint.Changes = append(p.hint.Changes, c)
		}

	case hasMarker(line, "CHOICE"):
		p.flush()
		p.choice = &Step{
			Type:  StepChoice,
			Title: strings.TrimSpace(markerBody(line, "CHOICE")),
		}

	case hasMarker(line, "OPTION"):
		opt := strings.TrimSpace(markerBody(line, "OPTION"))
		if p.choice != nil {
			if opt != "" {
				p.choice.Options = append(p.choice.Options, opt)
			}
			return
		}
		// OPTION outside a choice block degrades to narration.
		p.closeHint()
		p.result.Steps = append(p.result.Steps, Step{Type: StepNarration, Text: opt})

	case strings.EqualFold(line, "[END_CHOICE]"):
		p.closeHint()
		p.closeChoice()

	default:
		// Inside a choice block, free lines accumulate as the description.
		if p.choice != nil {
			if p.choice.Text == "" {
				p.choice.Text = line
			} else {
				p.choice.Text += "\n" + line
			}
			return
		}
		p.closeHint()
		p.result.Steps = append(p.result.Steps, coerceLine(line))
	}
}

// flush closes any open hint and choice blocks.
func (p *parseState) flush() {
	p.closeHint()
	p.closeChoice()
}

// closeHint appends the open hint step, if any.
func (p *parseState) closeHint() {
	if p.hint == nil {
		return
	}
	p.result.Steps = append(p.result.Steps, *p.hint)
	p.hint = nil
}

// closeChoice appends the open choice step. A choice with zero options is
// discarded.
func (p *parseState) closeChoice() {
	if p.choice == nil {
		return
	}
	if len(p.choice.Options) > 0 {
		p.result.Steps = append(p.result.Steps, *p.choice)
	}
	p.choice = nil
}

// aggregate builds the delta bundle and the option list from the final steps.
func (p *parseState) aggregate() {
	r := p.result
	for _, step := range r.Steps {
		switch step.Type {
		case StepHint:
			for _, c := range step.Changes {
				switch c.Kind {
				case ChangeAttribute:
					if !IsPlayerActor(c.Actor) {
						continue // NPC attribute changes stay narrative-only
					}
					if r.Deltas.Attributes == nil {
						r.Deltas.Attributes = map[string]int{}
					}
					r.Deltas.Attributes[c.Attribute] += c.Delta
				case ChangeRelationship:
					if r.Deltas.Relationships == nil {
						r.Deltas.Relationships = map[string]int{}
					}
					r.Deltas.Relationships[c.NPC] += c.Delta
				case ChangeItem:
					r.Deltas.Items = append(r.Deltas.Items, ItemDelta{
						Name:     c.Item,
						Action:   c.Action,
						Quantity: c.Quantity,
					})
				}
			}
		case StepChoice:
			r.Options = append(r.Options, step.Options...)
		}
	}
}

// hasMarker reports whether the line starts with `[NAME:` (case-insensitive).
func hasMarker(line, name string) bool {
	if len(line) < len(name)+2 || line[0] != '[' {
		return false
	}
	rest := line[1:]
	if !strings.EqualFold(rest[:len(name)], name) {
		return false
	}
	rest = rest[len(name):]
	return strings.HasPrefix(strings.TrimLeft(rest, " "), ":")
}

// markerBody extracts the content between `[NAME:` and the trailing `]`.
// A missing closing bracket yields the rest of the line.
func markerBody(line, name string) string {
	body := line[1:]
	body = body[len(name):]
	body = strings.TrimLeft(body, " ")
	body = strings.TrimPrefix(body, ":")
	if strings.HasSuffix(body, "]") {
		body = body[:len(body)-1]
	}
	return body
}

// parseDialogue splits `characterId, "text"` into a dialogue step.
func parseDialogue(body string) Step {
	parts := strings.SplitN(body, ",", 2)
	if len(parts) < 2 {
		// No comma: treat the whole body as narration-style dialogue text.
		return Step{Type: StepDialogue, Text: strings.TrimSpace(body)}
	}
	return Step{
		Type:        StepDialogue,
		CharacterID: strings.TrimSpace(parts[0]),
		Text:        unquote(strings.TrimSpace(parts[1])),
	}
}

// parseChange parses one CHANGE body into a Change. Shapes:
//
//	actorName, attrName, ±N
//	RELATIONSHIP, npcName, ±N
//	itemName, 获得|丢失, N
func parseChange(body string) (Change, bool) {
	parts := strings.SplitN(body, ",", 3)
	if len(parts) != 3 {
		return Change{}, false
	}
	first := strings.TrimSpace(parts[0])
	second := strings.TrimSpace(parts[1])
	third := strings.TrimSpace(parts[2])

	if strings.EqualFold(first, "RELATIONSHIP") {
		delta, err := parseSignedInt(third)
		if err != nil {
			return Change{}, false
		}
		return Change{Kind: ChangeRelationship, NPC: second, Delta: delta}, true
	}

	if action, ok := itemVerbs[strings.ToLower(second)]; ok {
		qty, err := parseSignedInt(third)
		if err != nil || qty <= 0 {
			return Change{}, false
		}
		return Change{Kind: ChangeItem, Item: first, Action: action, Quantity: qty}, true
	}

	delta, err := parseSignedInt(third)
	if err != nil {
		return Change{}, false
	}
	return Change{Kind: ChangeAttribute, Actor: first, Attribute: second, Delta: delta}, true
}

// parseSignedInt accepts "+5", "-3", and "5".
func parseSignedInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "+")
	return strconv.Atoi(s)
}

// unquote strips one layer of straight or curly quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		if (strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`)) ||
			(strings.HasPrefix(s, "“") && strings.HasSuffix(s, "”")) {
			s = strings.TrimPrefix(s, `"`)
			s = strings.TrimPrefix(s, "“")
			s = strings.TrimSuffix(s, `"`)
			s = strings.TrimSuffix(s, "”")
		}
	}
	return s
}

// coerceLine converts an unmarked line into a step, detecting bare
// `Name: "text"` dialogue.
func coerceLine(line string) Step {
	if m := dialogueLineRe.FindStringSubmatch(line); m != nil {
		return Step{
			Type:        StepDialogue,
			CharacterID: strings.TrimSpace(m[1]),
			Text:        m[2],
		}
	}
	return Step{Type: StepNarration, Text: line}
}

// FormatSteps re-serializes steps with the canonical marker grammar. Parsing
// the result reproduces the same step sequence and deltas, which makes the
// grammar testable and gives prompts a source of truth for examples.
func FormatSteps(steps []Step) string {
	var b strings.Builder
	for _, s := range steps {
		switch s.Type {
		case StepNarration:
			fmt.Fprintf(&b, "[NARRATION: %s]\n", s.Text)
		case StepDialogue:
			fmt.Fprintf(&b, "[DIALOGUE: %s, \"%s\"]\n", s.CharacterID, s.Text)
		case StepHint:
			fmt.Fprintf(&b, "[HINT: %s]\n", s.Text)
			for _, c := range s.Changes {
				b.WriteString(formatChange(c))
			}
		case StepChoice:
			fmt.Fprintf(&b, "[CHOICE: %s]\n", s.Title)
			if s.Text != "" {
				b.WriteString(s.Text)
				b.WriteString("\n")
			}
			for _, opt := range s.Options {
				fmt.Fprintf(&b, "[OPTION: %s]\n", opt)
			}
			b.WriteString("[END_CHOICE]\n")
		}
	}
	return b.String()
}

// formatChange emits the canonical CHANGE line for one change.
func formatChange(c Change) string {
	switch c.Kind {
	case ChangeRelationship:
		return fmt.Sprintf("[CHANGE: RELATIONSHIP, %s, %+d]\n", c.NPC, c.Delta)
	case ChangeItem:
		verb := "获得"
		if c.Action == ItemLose {
			verb = "丢失"
		}
		return fmt.Sprintf("[CHANGE: %s, %s, %d]\n", c.Item, verb, c.Quantity)
	default:
		return fmt.Sprintf("[CHANGE: %s, %s, %+d]\n", c.Actor, c.Attribute, c.Delta)
	}
}
