package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/joffreyzhang/kurangame/internal/game"
	"github.com/joffreyzhang/kurangame/internal/parser"
	"github.com/joffreyzhang/kurangame/internal/prompt"
	"github.com/joffreyzhang/kurangame/internal/status"
	"github.com/joffreyzhang/kurangame/pkg/provider/llm"
)

// Sentinel errors returned by the engine.
var (
	// ErrNotActive is returned when submit or abandon targets a mission that
	// is not in the active state. A completed mission is the exception for
	// submit, which replays its original result.
	ErrNotActive = errors.New("mission: not active")
)

// DefaultCadence is the turn interval between generated missions when the
// narrative model does not raise the mission flag itself.
const DefaultCadence = 5

// Engine generates and resolves missions against the session's game state.
// Mutating methods must be called under the session's write lock; the engine
// itself holds no session state.
type Engine struct {
	store   *game.Store
	statuse *status.Engine
	llm     llm.Provider
	builder *prompt.Builder
	log     *slog.Logger

	cadence atomic.Int64
}

// Option configures the Engine.
type Option func(*Engine)

// WithCadence overrides the mission-generation turn interval.
func WithCadence(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.cadence.Store(int64(n))
		}
	}
}

// NewEngine wires the mission engine. The status engine applies the winning
// path's rewards so item matching and relationship mirroring behave exactly
// like narrative state changes.
func NewEngine(store *game.Store, st *status.Engine, provider llm.Provider, builder *prompt.Builder, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		store:   store,
		statuse: st,
		llm:     provider,
		builder: builder,
		log:     log,
	}
	e.cadence.Store(DefaultCadence)
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetCadence changes the turn interval for subsequent ticks. Zero or negative
// resets to [DefaultCadence]. Safe to call while sessions run.
func (e *Engine) SetCadence(n int) {
	if n <= 0 {
		n = DefaultCadence
	}
	e.cadence.Store(int64(n))
}

// ShouldGenerate decides whether this turn's tick spawns a new mission.
// Blocked storylines never generate: a second story mission on top of an
// unresolved one would deadlock progression.
func (e *Engine) ShouldGenerate(turnCount, lastMissionTurn int, modelFlag, blocked bool) bool {
	if blocked {
		return false
	}
	if modelFlag {
		return true
	}
	return turnCount-lastMissionTurn >= int(e.cadence.Load())
}

// Generate asks the LLM for one new mission grounded in the current world
// state. A reply that cannot be parsed as the mission JSON contract falls
// back to a simple exploration mission so the cadence never yields nothing.
func (e *Engine) Generate(ctx context.Context, req prompt.MissionRequest) (*Mission, error) {
	p := e.builder.BuildMission(req)

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Messages:     p.Messages,
		SystemPrompt: p.System,
		Temperature:  0.8,
	})
	if err != nil {
		return nil, fmt.Errorf("mission: generate: %w", err)
	}

	m, err := parseMission(resp.Content)
	if err != nil {
		e.log.Warn("mission: unparseable generation, using fallback",
			"turn", req.TurnCount, "error", err)
		m = fallbackMission(req.Player)
	}

	m.ID = uuid.NewString()
	m.Status = StatusActive
	m.CreatedAtTurn = req.TurnCount
	return m, nil
}

// parseMission decodes the model's JSON reply, tolerating markdown fences
// and prose around the object.
func parseMission(reply string) (*Mission, error) {
	raw := extractJSONObject(reply)
	if raw == "" {
		return nil, fmt.Errorf("mission: no JSON object in reply")
	}
	var m Mission
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("mission: decode: %w", err)
	}
	if err := m.normalize(); err != nil {
		return nil, err
	}
	return &m, nil
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

// fallbackMission is a deterministic side mission used when generation
// produced garbage. It is always completable from the player's position.
func fallbackMission(p *game.Player) *Mission {
	location := p.Location
	return &Mission{
		Type:        TypeSide,
		Title:       "Survey the Surroundings",
		Description: "Take stock of your current location and gather anything of value before moving on.",
		Paths: []Path{
			{
				ID:           "path_1",
				Name:         "Stay and observe",
				Requirements: Requirements{Location: location},
				Rewards:      Rewards{Currency: 10},
			},
		},
	}
}

// Evaluate checks every path of the mission against the player's current
// state without mutating anything. Results are in definition order.
func (e *Engine) Evaluate(m *Mission, player *game.Player) []PathResult {
	results := make([]PathResult, 0, len(m.Paths))
	for _, path := range m.Paths {
		results = append(results, evaluatePath(path, player))
	}
	return results
}

func evaluatePath(path Path, player *game.Player) PathResult {
	res := PathResult{PathID: path.ID}

	for _, req := range path.Requirements.Items {
		idx := player.FindItemByName(req.Name)
		have := 0
		if idx >= 0 {
			have = player.Inventory[idx].Quantity
		}
		if have >= req.Qty {
			res.Details = append(res.Details, fmt.Sprintf("have %d× %s", have, req.Name))
		} else {
			res.MissingRequirements = append(res.MissingRequirements,
				fmt.Sprintf("need %d× %s (have %d)", req.Qty, req.Name, have))
		}
	}

	if c := path.Requirements.Currency; c > 0 {
		if player.Currency >= c {
			res.Details = append(res.Details, fmt.Sprintf("currency %d meets %d", player.Currency, c))
		} else {
			res.MissingRequirements = append(res.MissingRequirements,
				fmt.Sprintf("need %d currency (have %d)", c, player.Currency))
		}
	}

	for _, req := range path.Requirements.Relationships {
		level, known := lookupNetwork(player, req.NPC)
		if known && level >= req.MinLevel {
			res.Details = append(res.Details, fmt.Sprintf("%s relationship %d meets %d", req.NPC, level, req.MinLevel))
		} else {
			res.MissingRequirements = append(res.MissingRequirements,
				fmt.Sprintf("need relationship with %s at %d or above (have %d)", req.NPC, req.MinLevel, level))
		}
	}

	if loc := path.Requirements.Location; loc != "" {
		if strings.EqualFold(player.Location, loc) {
			res.Details = append(res.Details, fmt.Sprintf("at %s", loc))
		} else {
			res.MissingRequirements = append(res.MissingRequirements,
				fmt.Sprintf("must be at %s (currently %s)", loc, player.Location))
		}
	}

	for key, want := range path.Requirements.Flags {
		got, ok := player.Flags[key]
		if ok && flagEqual(got, want) {
			res.Details = append(res.Details, fmt.Sprintf("flag %s satisfied", key))
		} else {
			res.MissingRequirements = append(res.MissingRequirements,
				fmt.Sprintf("flag %s must be %v", key, want))
		}
	}

	res.Completed = len(res.MissingRequirements) == 0
	return res
}

// lookupNetwork finds an NPC's relationship level case-insensitively.
func lookupNetwork(player *game.Player, npc string) (int, bool) {
	if v, ok := player.Network[npc]; ok {
		return v, true
	}
	for name, v := range player.Network {
		if strings.EqualFold(name, npc) {
			return v, true
		}
	}
	return 0, false
}

// flagEqual compares flag values across JSON decoding quirks: numbers decode
// as float64, so 1 and 1.0 must compare equal.
func flagEqual(got, want any) bool {
	if got == want {
		return true
	}
	gf, gok := asFloat(got)
	wf, wok := asFloat(want)
	if gok && wok {
		return gf == wf
	}
	return fmt.Sprint(got) == fmt.Sprint(want)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Submit evaluates the mission's paths and, on the first satisfied path,
// applies that path's rewards (and consumes its required items) through the
// status engine. Submitting an already-completed mission replays the original
// result without touching state. Missions in any other non-active state
// return ErrNotActive.
func (e *Engine) Submit(sessionID, fileID string, m *Mission) (*SubmitResult, error) {
	if m.Status == StatusCompleted {
		return &SubmitResult{
			Completed:     true,
			CompletedPath: m.CompletedPath,
			PathResults:   []PathResult{{PathID: m.CompletedPath, Completed: true}},
		}, nil
	}
	if m.Status != StatusActive {
		return nil, fmt.Errorf("mission: submit %s in state %s: %w", m.ID, m.Status, ErrNotActive)
	}

	player, err := e.store.SessionPlayer(sessionID, fileID)
	if err != nil {
		return nil, fmt.Errorf("mission: submit %s: %w", m.ID, err)
	}

	results := e.Evaluate(m, player)

	var winner *Path
	for i, res := range results {
		if res.Completed {
			winner = &m.Paths[i]
			break
		}
	}
	if winner == nil {
		return &SubmitResult{Completed: false, PathResults: results}, nil
	}

	if err := e.applyCompletion(sessionID, fileID, *winner); err != nil {
		return nil, fmt.Errorf("mission: complete %s via %s: %w", m.ID, winner.ID, err)
	}

	m.Status = StatusCompleted
	m.CompletedPath = winner.ID
	e.log.Info("mission: completed",
		"session", sessionID, "mission", m.ID, "path", winner.ID, "type", m.Type)

	return &SubmitResult{
		Completed:     true,
		CompletedPath: winner.ID,
		PathResults:   results,
	}, nil
}

// applyCompletion consumes the path's required items and grants its rewards.
// Item and relationship handling go through the status engine so they share
// the narrative pipeline's fuzzy matching, catalog hydration, and scene
// relationship mirroring; currency is credited directly.
func (e *Engine) applyCompletion(sessionID, fileID string, path Path) error {
	deltas := parser.Deltas{
		Attributes:    path.Rewards.Attributes,
		Relationships: make(map[string]int, len(path.Rewards.Relationships)),
	}
	for _, item := range path.Requirements.Items {
		deltas.Items = append(deltas.Items, parser.ItemDelta{
			Name: item.Name, Action: parser.ItemLose, Quantity: item.Qty,
		})
	}
	for _, item := range path.Rewards.Items {
		qty := item.Qty
		if qty <= 0 {
			qty = 1
		}
		deltas.Items = append(deltas.Items, parser.ItemDelta{
			Name: item.Name, Action: parser.ItemAcquire, Quantity: qty,
		})
	}
	for _, rel := range path.Rewards.Relationships {
		deltas.Relationships[rel.NPC] += rel.Delta
	}

	player, err := e.statuse.Apply(sessionID, fileID, deltas)
	if err != nil {
		return err
	}

	if path.Rewards.Currency != 0 {
		player.Currency += path.Rewards.Currency
		player.Normalize()
		if err := e.store.SavePlayer(sessionID, player); err != nil {
			return err
		}
	}
	return nil
}

// Abandon marks an active mission abandoned and reports whether it was the
// storyline-blocking mission, so the caller can clear the block and resume
// the story.
func (e *Engine) Abandon(sessionID string, m *Mission) (wasBlocking bool, err error) {
	if m.Status != StatusActive {
		return false, fmt.Errorf("mission: abandon %s in state %s: %w", m.ID, m.Status, ErrNotActive)
	}
	wasBlocking = m.Blocking()
	m.Status = StatusAbandoned
	e.log.Info("mission: abandoned",
		"session", sessionID, "mission", m.ID, "wasBlocking", wasBlocking)
	return wasBlocking, nil
}
