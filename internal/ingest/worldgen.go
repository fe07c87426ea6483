package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joffreyzhang/kurangame/internal/game"
	"github.com/joffreyzhang/kurangame/pkg/provider/llm"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

// sourceTextLimit caps how much extracted text reaches the model. Longer
// documents are truncated from the tail; the opening chapters carry the
// world-building weight.
const sourceTextLimit = 24000

// World bundles everything generated from one source document.
type World struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Lore        *game.Lore       `json:"lore"`
	Player      *game.Player     `json:"player"`
	Items       game.ItemCatalog `json:"items"`
	Scenes      game.Scenes      `json:"scenes"`
}

// WorldGenerator derives the four world documents plus a title and
// description from extracted source text, through one LLM call.
type WorldGenerator struct {
	llm llm.Provider
	log *slog.Logger
}

// NewWorldGenerator wires a generator over the given provider.
func NewWorldGenerator(provider llm.Provider, log *slog.Logger) *WorldGenerator {
	if log == nil {
		log = slog.Default()
	}
	return &WorldGenerator{llm: provider, log: log.With("component", "worldgen")}
}

const worldSystemPrompt = `You convert a source document (a story, novel excerpt, setting bible, or notes) into the data files of an interactive-fiction world.
Reply with EXACTLY one JSON object and nothing else, with this shape:

{
  "title": "short world title",
  "description": "one-paragraph pitch of the world",
  "lore": {
    "title": "...",
    "background": ["paragraph", "..."],
    "timePeriod": "...",
    "keyEvents": [{"year": 0, "title": "...", "description": "..."}],
    "currentTime": {"year": 0},
    "eras": [{"title": "...", "startYear": 0, "endYear": 0, "description": "..."}]
  },
  "player": {
    "profile": {"name": "...", "age": 0, "gender": "..."},
    "attributes": {"health": 100, "strength": 10},
    "inventory": [{"id": "item_x", "name": "...", "quantity": 1}],
    "currency": 0,
    "location": "scene id the player starts in",
    "unlockedScenes": ["..."]
  },
  "items": {
    "item_x": {"name": "...", "description": "...", "value": 0}
  },
  "scenes": {
    "scene_id": {
      "name": "...",
      "description": "...",
      "npcs": [{"id": "npc_x", "name": "...", "job": "...", "description": "..."}],
      "buildings": [{"id": "bld_x", "name": "...", "type": "...", "description": "..."}]
    }
  }
}

Rules:
- Derive everything from the source document; invent only what is needed to fill gaps.
- 3 to 8 scenes, each with 1 to 4 NPCs. The player's starting location must be an unlocked scene id.
- All ids are lowercase snake_case with their type prefix (item_, npc_, bld_).
- Eras must be in chronological order and currentTime.year must fall inside the first era.`

// Generate runs the world-generation call and validates the reply.
func (g *WorldGenerator) Generate(ctx context.Context, sourceText string) (*World, error) {
	text := truncateRunes(sourceText, sourceTextLimit)

	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: worldSystemPrompt,
		Messages: []types.Message{
			{Role: "user", Content: "Source document:\n\n" + text},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: world generation: %w", err)
	}

	w, err := parseWorld(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("ingest: world generation: %w", err)
	}
	g.log.Info("world generated", "title", w.Title,
		"scenes", len(w.Scenes), "items", len(w.Items))
	return w, nil
}

// parseWorld decodes the model's JSON reply, tolerating markdown fences and
// prose around the object, and validates the invariants the runtime relies
// on.
func parseWorld(reply string) (*World, error) {
	raw := extractJSONObject(reply)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	var w World
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := w.validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

func (w *World) validate() error {
	if strings.TrimSpace(w.Title) == "" {
		return fmt.Errorf("missing title")
	}
	if w.Lore == nil {
		return fmt.Errorf("missing lore document")
	}
	if w.Player == nil {
		return fmt.Errorf("missing player document")
	}
	if len(w.Scenes) == 0 {
		return fmt.Errorf("no scenes")
	}
	if w.Items == nil {
		w.Items = game.ItemCatalog{}
	}

	// The starting location must exist and be unlocked, or session creation
	// would produce a player stranded outside the world.
	if _, ok := w.Scenes[w.Player.Location]; !ok {
		return fmt.Errorf("player location %q is not a scene", w.Player.Location)
	}
	if !w.Player.HasUnlocked(w.Player.Location) {
		w.Player.UnlockedScenes = append(w.Player.UnlockedScenes, w.Player.Location)
	}
	w.Player.Normalize()
	return nil
}

// Save writes the four world documents as the template fileID.
func (w *World) Save(store *game.Store, fileID string) error {
	if err := store.SaveLore(fileID, w.Lore); err != nil {
		return fmt.Errorf("ingest: save lore: %w", err)
	}
	if err := store.SavePlayer(fileID, w.Player); err != nil {
		return fmt.Errorf("ingest: save player: %w", err)
	}
	if err := store.SaveItems(fileID, w.Items); err != nil {
		return fmt.Errorf("ingest: save items: %w", err)
	}
	if err := store.SaveScenes(fileID, w.Scenes); err != nil {
		return fmt.Errorf("ingest: save scenes: %w", err)
	}
	return nil
}

// extractJSONObject returns the outermost {...} span of s, or "".
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
