package prompt

import "fmt"

// Style selects the prose register the model is asked to write in.
type Style string

// The closed set of literary styles.
const (
	StyleDelicatePsychological Style = "delicate_psychological"
	StyleLiterary              Style = "literary"
	StyleCasual                Style = "casual"
	StyleDramatic              Style = "dramatic"
	StylePoetic                Style = "poetic"
	StyleThriller              Style = "thriller"
)

// DefaultStyle is used when a session is created without an explicit style.
const DefaultStyle = StyleLiterary

// styleDirectives maps each style to the prose guidance injected into the
// system prompt.
var styleDirectives = map[Style]string{
	StyleDelicatePsychological: "Write with delicate psychological interiority: linger on the player's inner sensations, doubts, and small perceptions. Favor close third-person focalization and restrained, precise language over spectacle.",
	StyleLiterary:              "Write in a polished literary register: textured description, deliberate pacing, and resonant imagery. Avoid clichés and melodrama; let meaning emerge from concrete detail.",
	StyleCasual:                "Write in a light, conversational register: short sentences, modern diction, a warm and occasionally wry narrator. Keep descriptions brisk and approachable.",
	StyleDramatic:              "Write with dramatic intensity: high stakes, vivid confrontation, strong verbs. Scenes should build tension and end on momentum.",
	StylePoetic:                "Write with poetic cadence: rhythmic sentences, striking metaphor, and sensory compression. Imagery carries the narrative weight.",
	StyleThriller:              "Write as a taut thriller: clipped sentences, escalating danger, information withheld and revealed for suspense. Every beat should tighten the screw.",
}

// Directive returns the prose guidance for the style. Unknown styles fall
// back to the default.
func (s Style) Directive() string {
	if d, ok := styleDirectives[s]; ok {
		return d
	}
	return styleDirectives[DefaultStyle]
}

// Valid reports whether s is a member of the closed style set.
func (s Style) Valid() bool {
	_, ok := styleDirectives[s]
	return ok
}

// ParseStyle validates a raw style string. An empty string selects the
// default; anything else outside the closed set is an error.
func ParseStyle(raw string) (Style, error) {
	if raw == "" {
		return DefaultStyle, nil
	}
	s := Style(raw)
	if !s.Valid() {
		return "", fmt.Errorf("prompt: unknown literary style %q", raw)
	}
	return s, nil
}
