// Package mission implements mission generation, multi-path completion
// validation, and storyline blocking.
//
// Missions are produced by a dedicated LLM call on a turn cadence (or when
// the narrative model raises the mission flag). Each mission carries one to
// three alternative completion paths; the first fully-satisfied path wins.
// An active story-type mission blocks normal story progression until it is
// completed or abandoned.
package mission

import (
	"fmt"
	"strings"
)

// Type classifies a mission.
type Type string

const (
	// TypeSide is an optional mission that never blocks the storyline.
	TypeSide Type = "side"

	// TypeStory is a main-arc mission. While active it blocks story
	// progression: player actions get a canned blocking narrative instead of
	// an LLM reply.
	TypeStory Type = "story"
)

// Status is the mission lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// ItemRequirement asks for a minimum stack of one named item.
type ItemRequirement struct {
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

// RelationshipRequirement gates a path on standing with one NPC.
type RelationshipRequirement struct {
	NPC      string `json:"npc"`
	MinLevel int    `json:"minLevel"`
}

// Requirements lists everything a path demands of the player. All fields are
// optional; an empty Requirements is trivially satisfied. Required items are
// consumed on completion; the currency field is an absolute gate, not a cost.
type Requirements struct {
	Items         []ItemRequirement         `json:"items,omitempty"`
	Currency      int                       `json:"currency,omitempty"`
	Relationships []RelationshipRequirement `json:"relationships,omitempty"`
	Location      string                    `json:"location,omitempty"`
	Flags         map[string]any            `json:"flags,omitempty"`
}

// Empty reports whether the requirements demand nothing.
func (r Requirements) Empty() bool {
	return len(r.Items) == 0 && r.Currency == 0 && len(r.Relationships) == 0 &&
		r.Location == "" && len(r.Flags) == 0
}

// RelationshipReward adjusts standing with one NPC on completion.
type RelationshipReward struct {
	NPC   string `json:"npc"`
	Delta int    `json:"delta"`
}

// Rewards is what the winning path grants.
type Rewards struct {
	Items         []ItemRequirement    `json:"items,omitempty"`
	Currency      int                  `json:"currency,omitempty"`
	Relationships []RelationshipReward `json:"relationships,omitempty"`
	Attributes    map[string]int       `json:"attributes,omitempty"`
}

// Path is one alternative way to complete a mission.
type Path struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Requirements Requirements `json:"requirements"`
	Rewards      Rewards      `json:"rewards"`
}

// Mission is one generated quest, persisted as part of the session snapshot.
type Mission struct {
	ID            string `json:"id"`
	Type          Type   `json:"type"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Status        Status `json:"status"`
	CreatedAtTurn int    `json:"createdAtTurn"`
	Paths         []Path `json:"paths"`

	// CompletedPath is the winning path's ID once Status is completed. It
	// makes a repeated submit return the original result without re-applying
	// rewards.
	CompletedPath string `json:"completedPath,omitempty"`
}

// Blocking reports whether this mission suspends the storyline right now.
func (m *Mission) Blocking() bool {
	return m.Type == TypeStory && m.Status == StatusActive
}

// FindPath returns the path with the given ID, or nil.
func (m *Mission) FindPath(id string) *Path {
	for i := range m.Paths {
		if m.Paths[i].ID == id {
			return &m.Paths[i]
		}
	}
	return nil
}

// PathResult is the evaluation outcome for one path.
type PathResult struct {
	PathID    string `json:"pathId"`
	Completed bool   `json:"completed"`

	// Details describes the satisfied requirements in reading order.
	Details []string `json:"details,omitempty"`

	// MissingRequirements describes each unmet requirement, phrased for the
	// player ("need 3× Iron Key (have 1)").
	MissingRequirements []string `json:"missingRequirements,omitempty"`
}

// SubmitResult is the outcome of a submit attempt.
type SubmitResult struct {
	Completed     bool         `json:"completed"`
	CompletedPath string       `json:"completedPath,omitempty"`
	PathResults   []PathResult `json:"pathResults"`
}

// normalize fills generated-content gaps so downstream code can rely on the
// shape: missing path IDs, missing type, empty requirement maps.
func (m *Mission) normalize() error {
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("mission: missing title")
	}
	if len(m.Paths) == 0 {
		return fmt.Errorf("mission: no completion paths")
	}
	if len(m.Paths) > 3 {
		m.Paths = m.Paths[:3]
	}
	if m.Type != TypeStory {
		m.Type = TypeSide
	}
	for i := range m.Paths {
		if strings.TrimSpace(m.Paths[i].ID) == "" {
			m.Paths[i].ID = fmt.Sprintf("path_%d", i+1)
		}
	}
	return nil
}
