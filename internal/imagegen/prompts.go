package imagegen

import (
	"fmt"
	"strings"

	"github.com/joffreyzhang/kurangame/internal/game"
)

// loreContext is the visual-style summary extracted from the lore document
// and injected into every image prompt so all assets of one world share a
// coherent look.
type loreContext struct {
	Era         string
	TimePeriod  string
	Setting     string
	Culture     string
	KeyElements []string
}

// settingKeywords maps background keywords to a one-word setting label.
// First match wins, scanning the background lines in order.
var settingKeywords = []struct{ keyword, setting string }{
	{"kingdom", "medieval kingdom"},
	{"empire", "sprawling empire"},
	{"village", "rural village"},
	{"city", "bustling city"},
	{"desert", "desert expanse"},
	{"forest", "deep forest"},
	{"sea", "coastal realm"},
	{"ocean", "coastal realm"},
	{"island", "island chain"},
	{"mountain", "mountain range"},
	{"space", "spacefaring frontier"},
	{"station", "orbital station"},
	{"cyber", "neon cyberpunk sprawl"},
	{"steam", "steampunk metropolis"},
}

// cultureKeywords maps background keywords to a culture descriptor.
var cultureKeywords = []struct{ keyword, culture string }{
	{"magic", "arcane traditions"},
	{"knight", "chivalric order"},
	{"samurai", "feudal eastern"},
	{"viking", "norse seafaring"},
	{"tribe", "tribal"},
	{"guild", "guild-run mercantile"},
	{"church", "devout clerical"},
	{"tech", "high-technology"},
	{"noble", "aristocratic court"},
}

// extractLoreContext builds a visual summary from the lore document using
// keyword heuristics over the background text. Missing signals fall back to
// neutral fantasy defaults so prompts never come out empty.
func extractLoreContext(lore *game.Lore) loreContext {
	lctx := loreContext{
		Era:        "an unnamed age",
		TimePeriod: "a timeless era",
		Setting:    "a fantasy realm",
		Culture:    "mixed traditions",
	}
	if lore == nil {
		return lctx
	}
	if era := lore.CurrentEra(); era != nil && era.Title != "" {
		lctx.Era = era.Title
	}
	if lore.TimePeriod != "" {
		lctx.TimePeriod = lore.TimePeriod
	}

	haystack := strings.ToLower(strings.Join(lore.Background, " "))
	for _, kw := range settingKeywords {
		if strings.Contains(haystack, kw.keyword) {
			lctx.Setting = kw.setting
			break
		}
	}
	for _, kw := range cultureKeywords {
		if strings.Contains(haystack, kw.keyword) {
			lctx.Culture = kw.culture
			break
		}
	}

	for _, ev := range lore.KeyEvents {
		if ev.Title != "" {
			lctx.KeyElements = append(lctx.KeyElements, ev.Title)
		}
		if len(lctx.KeyElements) == 3 {
			break
		}
	}
	if lore.Title != "" {
		lctx.KeyElements = append([]string{lore.Title}, lctx.KeyElements...)
	}
	return lctx
}

// style returns the shared style suffix appended to every prompt.
func (c loreContext) style() string {
	s := fmt.Sprintf("Set in %s during %s (%s), %s culture.",
		c.Setting, c.Era, c.TimePeriod, c.Culture)
	if len(c.KeyElements) > 0 {
		s += " Key elements: " + strings.Join(c.KeyElements, ", ") + "."
	}
	return s + " Consistent painterly game-art style, no text, no watermark."
}

func npcPrompt(npc game.NPC, lctx loreContext) string {
	desc := npc.Description
	if desc == "" {
		desc = npc.Job
	}
	return fmt.Sprintf(
		"Character portrait avatar of %s, %s. Head and shoulders, facing viewer, plain backdrop. %s",
		npc.Name, nonEmpty(desc, "a local inhabitant"), lctx.style())
}

func scenePrompt(scene *game.Scene, lctx loreContext) string {
	return fmt.Sprintf(
		"Wide establishing shot of %s: %s. No characters in frame. %s",
		scene.Name, nonEmpty(scene.Description, "a notable location"), lctx.style())
}

func buildingPrompt(b game.Building, lctx loreContext) string {
	kind := nonEmpty(b.Type, "structure")
	return fmt.Sprintf(
		"Small isometric icon of %s, a %s. %s. Centered, plain backdrop. %s",
		b.Name, kind, nonEmpty(b.Description, "a local landmark"), lctx.style())
}

func worldPrompt(lore *game.Lore, lctx loreContext) string {
	title := "the world"
	if lore != nil && lore.Title != "" {
		title = lore.Title
	}
	return fmt.Sprintf(
		"Illustrated overview map of %s, bird's-eye view, painterly cartography. %s",
		title, lctx.style())
}

func playerPrompt(player *game.Player, lctx loreContext) string {
	name := "the protagonist"
	detail := ""
	if player != nil {
		if player.Profile.Name != "" {
			name = player.Profile.Name
		}
		if player.Profile.Age > 0 {
			detail = fmt.Sprintf(", age %d", player.Profile.Age)
		}
	}
	return fmt.Sprintf(
		"Heroic full-body portrait of %s%s, the story's protagonist. %s",
		name, detail, lctx.style())
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
