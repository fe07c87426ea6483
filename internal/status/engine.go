// Package status applies parsed state deltas to the player document under
// the engine invariants: attribute clamping, non-negative inventory stacks,
// relationship clamping with scene mirroring, and currency accounting.
//
// Item and NPC names coming from the model are free text, so lookups run in
// two passes: exact case-insensitive match first, then a Jaro-Winkler fuzzy
// match to absorb the model's spelling drift ("Gold Coin" vs "gold coins").
package status

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/joffreyzhang/kurangame/internal/game"
	"github.com/joffreyzhang/kurangame/internal/parser"
)

// Sentinel errors.
var (
	// ErrItemNotFound is returned when a use-item request names an id absent
	// from the inventory.
	ErrItemNotFound = errors.New("status: item not found")

	// ErrSceneNotFound is returned when a scene id does not exist.
	ErrSceneNotFound = errors.New("status: scene not found")

	// ErrSceneLocked is returned when the target scene is not unlocked.
	ErrSceneLocked = errors.New("status: scene locked")
)

// defaultFuzzyThreshold is the minimum Jaro-Winkler similarity for treating
// two names as the same item or NPC.
const defaultFuzzyThreshold = 0.90

// Engine applies delta bundles to session state. All mutating methods are
// whole-document read-modify-write; callers serialize them per session via
// the session runtime lock.
type Engine struct {
	store          *game.Store
	log            *slog.Logger
	fuzzyThreshold float64
}

// Option configures the Engine.
type Option func(*Engine)

// WithFuzzyThreshold overrides the minimum similarity for fuzzy name matches.
func WithFuzzyThreshold(v float64) Option {
	return func(e *Engine) {
		e.fuzzyThreshold = v
	}
}

// NewEngine creates a status engine backed by the given store.
func NewEngine(store *game.Store, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		store:          store,
		log:            log,
		fuzzyThreshold: defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Apply applies the delta bundle to the session's player document and
// persists it. Relationship changes are mirrored into the scenes document,
// which is persisted only when at least one NPC entry changed.
//
// Returns the updated player. An empty bundle only refreshes lastUpdated.
func (e *Engine) Apply(sessionID, fileID string, deltas parser.Deltas) (*game.Player, error) {
	player, err := e.store.SessionPlayer(sessionID, fileID)
	if err != nil {
		return nil, fmt.Errorf("status: apply: %w", err)
	}

	e.applyAttributes(player, deltas.Attributes)

	if len(deltas.Items) > 0 {
		catalog, err := e.store.SessionItems(sessionID, fileID)
		if err != nil && !errors.Is(err, game.ErrNotFound) {
			return nil, fmt.Errorf("status: apply: %w", err)
		}
		for _, d := range deltas.Items {
			e.applyItem(player, catalog, d)
		}
	}

	if len(deltas.Relationships) > 0 {
		scenes, err := e.store.SessionScenes(sessionID, fileID)
		if err != nil && !errors.Is(err, game.ErrNotFound) {
			return nil, fmt.Errorf("status: apply: %w", err)
		}
		mirrored := 0
		for npc, delta := range deltas.Relationships {
			name := e.canonicalNPCName(player, scenes, npc)
			if player.Network == nil {
				player.Network = map[string]int{}
			}
			level := game.ClampRelationship(player.Network[name] + delta)
			player.Network[name] = level
			mirrored += scenes.SetRelationship(name, level)
		}
		if mirrored > 0 {
			if err := e.store.SaveScenes(sessionID, scenes); err != nil {
				return nil, fmt.Errorf("status: apply: %w", err)
			}
		}
	}

	player.LastUpdated = time.Now().UTC()
	player.Normalize()

	if err := e.store.SavePlayer(sessionID, player); err != nil {
		return nil, fmt.Errorf("status: apply: %w", err)
	}
	return player, nil
}

// applyAttributes sums attribute deltas into the player with clamping.
func (e *Engine) applyAttributes(player *game.Player, attrs map[string]int) {
	if len(attrs) == 0 {
		return
	}
	if player.Attributes == nil {
		player.Attributes = map[string]int{}
	}
	for name, delta := range attrs {
		v := player.Attributes[name] + delta
		if v < 0 {
			v = 0
		}
		if limit, ok := player.AttributeCaps[name]; ok && v > limit {
			v = limit
		}
		player.Attributes[name] = v
	}
}

// applyItem merges one inventory change into the player.
func (e *Engine) applyItem(player *game.Player, catalog game.ItemCatalog, d parser.ItemDelta) {
	idx := e.matchInventory(player, d.Name)

	switch d.Action {
	case parser.ItemAcquire:
		if idx >= 0 {
			player.Inventory[idx].Quantity += d.Quantity
			return
		}
		item := game.InventoryItem{
			ID:       slugify(d.Name),
			Name:     d.Name,
			Quantity: d.Quantity,
		}
		if id, tpl, ok := e.matchCatalog(catalog, d.Name); ok {
			item.ID = id
			item.Name = tpl.Name
			item.Description = tpl.Description
		}
		player.Inventory = append(player.Inventory, item)

	case parser.ItemLose:
		if idx < 0 {
			e.log.Debug("status: lose for item not in inventory", "item", d.Name)
			return
		}
		player.Inventory[idx].Quantity -= d.Quantity
		if player.Inventory[idx].Quantity <= 0 {
			player.Inventory = append(player.Inventory[:idx], player.Inventory[idx+1:]...)
		}
	}
}

// matchInventory finds the inventory index for a model-supplied name:
// exact case-insensitive first, then best fuzzy match above the threshold.
func (e *Engine) matchInventory(player *game.Player, name string) int {
	if idx := player.FindItemByName(name); idx >= 0 {
		return idx
	}
	best, bestScore := -1, 0.0
	lower := strings.ToLower(name)
	for i := range player.Inventory {
		s := matchr.JaroWinkler(lower, strings.ToLower(player.Inventory[i].Name), false)
		if s >= e.fuzzyThreshold && s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

// matchCatalog resolves a name against the item catalog, exact then fuzzy.
func (e *Engine) matchCatalog(catalog game.ItemCatalog, name string) (string, game.ItemTemplate, bool) {
	if id, tpl, ok := catalog.LookupByName(name); ok {
		return id, tpl, true
	}
	lower := strings.ToLower(name)
	bestID, bestScore := "", 0.0
	var bestTpl game.ItemTemplate
	for id, tpl := range catalog {
		s := matchr.JaroWinkler(lower, strings.ToLower(tpl.Name), false)
		if s >= e.fuzzyThreshold && s > bestScore {
			bestID, bestTpl, bestScore = id, tpl, s
		}
	}
	return bestID, bestTpl, bestID != ""
}

// canonicalNPCName resolves a model-supplied NPC name to its canonical form:
// an existing network key, an exact scene NPC name, or the best fuzzy scene
// match. Unresolvable names are kept verbatim so the delta is not lost.
func (e *Engine) canonicalNPCName(player *game.Player, scenes game.Scenes, name string) string {
	for known := range player.Network {
		if strings.EqualFold(known, name) {
			return known
		}
	}
	if _, npc := scenes.FindNPC(name); npc != nil {
		return npc.Name
	}
	lower := strings.ToLower(name)
	best, bestScore := "", 0.0
	for _, scene := range scenes {
		for i := range scene.NPCs {
			s := matchr.JaroWinkler(lower, strings.ToLower(scene.NPCs[i].Name), false)
			if s >= e.fuzzyThreshold && s > bestScore {
				best, bestScore = scene.NPCs[i].Name, s
			}
		}
	}
	if best != "" {
		return best
	}
	return name
}

// LocateItem finds an inventory entry by id for the use-item flow.
func (e *Engine) LocateItem(sessionID, fileID, itemID string) (game.InventoryItem, error) {
	player, err := e.store.SessionPlayer(sessionID, fileID)
	if err != nil {
		return game.InventoryItem{}, fmt.Errorf("status: locate item: %w", err)
	}
	idx := player.FindItem(itemID)
	if idx < 0 {
		return game.InventoryItem{}, fmt.Errorf("status: locate item %q: %w", itemID, ErrItemNotFound)
	}
	return player.Inventory[idx], nil
}

// SceneChange describes a completed scene move.
type SceneChange struct {
	From string
	To   string
}

// ChangeScene moves the player to the target scene. Fails with
// ErrSceneNotFound when the scene does not exist and ErrSceneLocked when it
// is not in the player's unlocked set. On success the player document is
// persisted with the new location.
func (e *Engine) ChangeScene(sessionID, fileID, sceneID string) (*SceneChange, error) {
	scenes, err := e.store.SessionScenes(sessionID, fileID)
	if err != nil {
		return nil, fmt.Errorf("status: change scene: %w", err)
	}
	if _, ok := scenes[sceneID]; !ok {
		return nil, fmt.Errorf("status: change scene %q: %w", sceneID, ErrSceneNotFound)
	}

	player, err := e.store.SessionPlayer(sessionID, fileID)
	if err != nil {
		return nil, fmt.Errorf("status: change scene: %w", err)
	}
	if !player.HasUnlocked(sceneID) {
		return nil, fmt.Errorf("status: change scene %q: %w", sceneID, ErrSceneLocked)
	}

	change := &SceneChange{From: player.Location, To: sceneID}
	player.Location = sceneID
	player.LastUpdated = time.Now().UTC()
	if err := e.store.SavePlayer(sessionID, player); err != nil {
		return nil, fmt.Errorf("status: change scene: %w", err)
	}
	return change, nil
}

// slugify derives a stable inventory id from an item name.
func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	return "item_" + s
}
