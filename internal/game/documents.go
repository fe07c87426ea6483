// Package game defines the four world documents the engine persists per
// world template (fileId) and per running session (sessionId): lore, player,
// scenes, and the item catalog. It also provides the on-disk Store that loads
// and saves them atomically.
//
// Documents are JSON-shaped but typed: the engine reads and writes whole
// documents under the session runtime lock, never partial fields.
package game

import (
	"strings"
	"time"
)

// Calendar constants for game-time arithmetic. The in-game calendar is
// simplified: every month has 30 days.
const (
	HoursPerDay   = 24
	DaysPerMonth  = 30
	MonthsPerYear = 12
)

// GameTime is the current in-world clock. Month, day, and hour are
// zero-based indices.
type GameTime struct {
	Year       int `json:"year"`
	MonthIndex int `json:"monthIndex"`
	DayIndex   int `json:"dayIndex"`
	HourIndex  int `json:"hourIndex"`
}

// Advance returns the time moved forward by the given number of game hours,
// carrying overflow into days, months, and years. Negative values are ignored;
// game time never moves backwards.
func (t GameTime) Advance(hours int) GameTime {
	if hours <= 0 {
		return t
	}
	t.HourIndex += hours
	t.DayIndex += t.HourIndex / HoursPerDay
	t.HourIndex %= HoursPerDay
	t.MonthIndex += t.DayIndex / DaysPerMonth
	t.DayIndex %= DaysPerMonth
	t.Year += t.MonthIndex / MonthsPerYear
	t.MonthIndex %= MonthsPerYear
	return t
}

// Before reports whether t is strictly earlier than other.
func (t GameTime) Before(other GameTime) bool {
	if t.Year != other.Year {
		return t.Year < other.Year
	}
	if t.MonthIndex != other.MonthIndex {
		return t.MonthIndex < other.MonthIndex
	}
	if t.DayIndex != other.DayIndex {
		return t.DayIndex < other.DayIndex
	}
	return t.HourIndex < other.HourIndex
}

// KeyEvent is a dated lore event used as background context in prompts.
type KeyEvent struct {
	Year        int    `json:"year"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Era is a named historical period. StatsGrowth holds per-attribute deltas
// applied when the player skips into this era; CurrencyBonus is a flat grant
// applied at the same moment.
type Era struct {
	Title         string         `json:"title"`
	StartYear     int            `json:"startYear"`
	EndYear       int            `json:"endYear"`
	Description   string         `json:"description"`
	StatsGrowth   map[string]int `json:"statsGrowth,omitempty"`
	CurrencyBonus int            `json:"currencyBonus,omitempty"`
}

// Lore is the world-background document. CurrentEraIndex indexes into Eras
// and only moves forward; CurrentTime only moves forward.
type Lore struct {
	Title           string     `json:"title"`
	Background      []string   `json:"background"`
	TimePeriod      string     `json:"timePeriod"`
	KeyEvents       []KeyEvent `json:"keyEvents,omitempty"`
	CurrentTime     GameTime   `json:"currentTime"`
	CurrentEraIndex int        `json:"currentEraIndex"`
	Eras            []Era      `json:"eras,omitempty"`
}

// CurrentEra returns the era at CurrentEraIndex, or nil when no eras are
// defined or the index is out of range.
func (l *Lore) CurrentEra() *Era {
	if l.CurrentEraIndex < 0 || l.CurrentEraIndex >= len(l.Eras) {
		return nil
	}
	return &l.Eras[l.CurrentEraIndex]
}

// AtLastEra reports whether the lore has no further era to advance into.
func (l *Lore) AtLastEra() bool {
	return l.CurrentEraIndex >= len(l.Eras)-1
}

// Profile identifies the player character.
type Profile struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

// InventoryItem is one owned-item stack. Quantity never goes below zero;
// stacks that reach zero are removed from the inventory.
type InventoryItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Quantity    int    `json:"quantity"`
	Value       int    `json:"value,omitempty"`
}

// Player is the per-session character document.
type Player struct {
	Profile        Profile         `json:"profile"`
	Attributes     map[string]int  `json:"attributes"`
	AttributeCaps  map[string]int  `json:"attributeCaps,omitempty"`
	Inventory      []InventoryItem `json:"inventory"`
	Currency       int             `json:"currency"`
	Location       string          `json:"location"`
	UnlockedScenes []string        `json:"unlockedScenes"`
	Network        map[string]int  `json:"network,omitempty"`
	Flags          map[string]any  `json:"flags,omitempty"`
	LastUpdated    time.Time       `json:"lastUpdated"`
}

// HasUnlocked reports whether the scene id is in the player's unlocked set.
func (p *Player) HasUnlocked(sceneID string) bool {
	for _, id := range p.UnlockedScenes {
		if id == sceneID {
			return true
		}
	}
	return false
}

// Unlock adds a scene id to the unlocked set if not already present.
func (p *Player) Unlock(sceneID string) {
	if !p.HasUnlocked(sceneID) {
		p.UnlockedScenes = append(p.UnlockedScenes, sceneID)
	}
}

// FindItem returns the inventory index of the item with the given id,
// or -1 when absent.
func (p *Player) FindItem(itemID string) int {
	for i := range p.Inventory {
		if p.Inventory[i].ID == itemID {
			return i
		}
	}
	return -1
}

// FindItemByName returns the inventory index of the first item whose name
// matches case-insensitively, or -1 when absent.
func (p *Player) FindItemByName(name string) int {
	for i := range p.Inventory {
		if strings.EqualFold(p.Inventory[i].Name, name) {
			return i
		}
	}
	return -1
}

// Normalize enforces the document invariants in place: attributes clamped to
// [0, cap] (or ≥0 without a cap), zero-quantity inventory stacks removed,
// currency floored at zero, and network values clamped to [-100, 100].
func (p *Player) Normalize() {
	for name, v := range p.Attributes {
		if v < 0 {
			v = 0
		}
		if limit, ok := p.AttributeCaps[name]; ok && v > limit {
			v = limit
		}
		p.Attributes[name] = v
	}
	kept := p.Inventory[:0]
	for _, it := range p.Inventory {
		if it.Quantity > 0 {
			kept = append(kept, it)
		}
	}
	p.Inventory = kept
	if p.Currency < 0 {
		p.Currency = 0
	}
	for name, v := range p.Network {
		p.Network[name] = ClampRelationship(v)
	}
}

// ClampRelationship restricts a relationship level to [-100, 100].
func ClampRelationship(v int) int {
	if v < -100 {
		return -100
	}
	if v > 100 {
		return 100
	}
	return v
}

// Feature is a named point of interest inside a building.
type Feature struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Building is a structure inside a scene.
type Building struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type,omitempty"`
	Description string    `json:"description,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	Features    []Feature `json:"features,omitempty"`
}

// NPC is a non-player character placed in a scene. Relationship mirrors the
// player's network level for this NPC and is kept in sync by the status
// engine.
type NPC struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Age          int    `json:"age,omitempty"`
	Gender       string `json:"gender,omitempty"`
	Job          string `json:"job,omitempty"`
	Description  string `json:"description,omitempty"`
	Icon         string `json:"icon,omitempty"`
	Relationship int    `json:"relationship"`
}

// Scene is one location in the world.
type Scene struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Background  string     `json:"background,omitempty"`
	NPCs        []NPC      `json:"npcs,omitempty"`
	Buildings   []Building `json:"buildings,omitempty"`
}

// Scenes maps scene id → scene. It is the whole scenes document.
type Scenes map[string]*Scene

// FindNPC returns the scene id and NPC pointer for the first NPC whose name
// matches case-insensitively, or ("", nil) when absent. Iteration over the
// map is unordered, so callers needing determinism should match by id.
func (s Scenes) FindNPC(name string) (string, *NPC) {
	for sceneID, scene := range s {
		for i := range scene.NPCs {
			if strings.EqualFold(scene.NPCs[i].Name, name) {
				return sceneID, &scene.NPCs[i]
			}
		}
	}
	return "", nil
}

// SetRelationship updates the relationship field of every NPC with the given
// name (case-insensitive), across all scenes. Returns the number of NPC
// entries updated.
func (s Scenes) SetRelationship(name string, level int) int {
	updated := 0
	for _, scene := range s {
		for i := range scene.NPCs {
			if strings.EqualFold(scene.NPCs[i].Name, name) {
				scene.NPCs[i].Relationship = level
				updated++
			}
		}
	}
	return updated
}

// ItemTemplate is a catalog entry used to hydrate inventory items created
// from LLM deltas and to resolve "use item" effects.
type ItemTemplate struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Effects     map[string]int `json:"effects,omitempty"`
}

// ItemCatalog maps item id → template. It is the whole items document.
type ItemCatalog map[string]ItemTemplate

// LookupByName returns the id and template of the first catalog entry whose
// name matches case-insensitively.
func (c ItemCatalog) LookupByName(name string) (string, ItemTemplate, bool) {
	for id, tpl := range c {
		if strings.EqualFold(tpl.Name, name) {
			return id, tpl, true
		}
	}
	return "", ItemTemplate{}, false
}
