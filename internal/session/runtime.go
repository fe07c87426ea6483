package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joffreyzhang/kurangame/internal/game"
	"github.com/joffreyzhang/kurangame/internal/mission"
	"github.com/joffreyzhang/kurangame/internal/parser"
	"github.com/joffreyzhang/kurangame/internal/prompt"
	"github.com/joffreyzhang/kurangame/internal/status"
	"github.com/joffreyzhang/kurangame/internal/stream"
	"github.com/joffreyzhang/kurangame/pkg/provider/llm"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

// Sentinel errors returned by the runtime.
var (
	// ErrSessionNotFound is returned when no live or recoverable session
	// exists for the id.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrTemplateNotFound is returned by Create when the fileId has no world
	// template on disk.
	ErrTemplateNotFound = errors.New("session: template not found")

	// ErrMissionNotFound is returned by mission operations when the id is not
	// in the session's mission list.
	ErrMissionNotFound = errors.New("session: mission not found")

	// ErrLLMFailure wraps upstream model errors and stream interruptions.
	ErrLLMFailure = errors.New("session: llm failure")
)

// StreamMode selects how the reply reaches the stream hub.
type StreamMode int

const (
	// ModeBuffered waits for the full completion and slices it into
	// fixed-width response_chunk events. Used when the upstream model does
	// not stream, and as the default.
	ModeBuffered StreamMode = iota

	// ModeLive forwards upstream tokens as stream events while they arrive.
	ModeLive
)

// Defaults for the runtime's design constants.
const (
	// DefaultChunkWidth is the rune width of buffered-mode reply slices.
	DefaultChunkWidth = 60

	// DefaultGameHoursPerAction is how far game time advances per player
	// action.
	DefaultGameHoursPerAction = 1
)

// ActionResult is the reply of one processed action.
type ActionResult struct {
	Response        string             `json:"response"`
	Steps           []parser.Step      `json:"steps"`
	ActionOptions   []string           `json:"actionOptions,omitempty"`
	GameState       GameState          `json:"gameState"`
	CharacterStatus *game.Player       `json:"characterStatus"`
	NewMission      *mission.Mission   `json:"newMission,omitempty"`
	Completed       []*mission.Mission `json:"completedMissions,omitempty"`

	// Warnings carries non-fatal tick failures (mission generation errors
	// never fail the action itself).
	Warnings []string `json:"warnings,omitempty"`
}

// sessionEntry pairs one conversation state with its single-writer lock.
type sessionEntry struct {
	mu    sync.Mutex
	state *ConversationState
}

// Runtime drives all live sessions. Safe for concurrent use; actions on the
// same session serialize on the session's lock, different sessions run in
// parallel.
type Runtime struct {
	store    *game.Store
	statuse  *status.Engine
	missions *mission.Engine
	llm      llm.Provider
	builder  *prompt.Builder
	hub      *stream.Hub
	log      *slog.Logger
	recaller Recaller

	summariser Summariser

	mu       sync.Mutex
	sessions map[string]*sessionEntry

	chunkWidth         atomic.Int64
	gameHoursPerAction atomic.Int64
}

// Option configures the Runtime.
type Option func(*Runtime)

// WithChunkWidth overrides the buffered-mode slice width, in runes.
func WithChunkWidth(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.chunkWidth.Store(int64(n))
		}
	}
}

// WithGameHoursPerAction overrides the game-time advance per action.
func WithGameHoursPerAction(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.gameHoursPerAction.Store(int64(n))
		}
	}
}

// WithRecaller attaches a semantic memory used by NPC chat. Without one the
// runtime runs file-only and NPCs remember nothing beyond their transcript
// window.
func WithRecaller(rec Recaller) Option {
	return func(r *Runtime) {
		r.recaller = rec
	}
}

// WithSummariser attaches a summariser used by [Runtime.Recap]. Without one,
// Recap returns an error.
func WithSummariser(s Summariser) Option {
	return func(r *Runtime) {
		r.summariser = s
	}
}

// NewRuntime wires the session runtime.
func NewRuntime(store *game.Store, st *status.Engine, me *mission.Engine, provider llm.Provider, builder *prompt.Builder, hub *stream.Hub, log *slog.Logger, opts ...Option) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	r := &Runtime{
		store:    store,
		statuse:  st,
		missions: me,
		llm:      provider,
		builder:  builder,
		hub:      hub,
		log:      log,
		sessions: make(map[string]*sessionEntry),
	}
	r.chunkWidth.Store(DefaultChunkWidth)
	r.gameHoursPerAction.Store(DefaultGameHoursPerAction)
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetGameConstants applies new design constants to subsequent actions. Zero
// or negative values reset to the defaults. Safe to call while actions run.
func (r *Runtime) SetGameConstants(chunkWidth, gameHoursPerAction int) {
	if chunkWidth <= 0 {
		chunkWidth = DefaultChunkWidth
	}
	if gameHoursPerAction <= 0 {
		gameHoursPerAction = DefaultGameHoursPerAction
	}
	r.chunkWidth.Store(int64(chunkWidth))
	r.gameHoursPerAction.Store(int64(gameHoursPerAction))
}

// Create materializes the session documents from the template and registers
// a fresh conversation state. Returns the initial state snapshot.
func (r *Runtime) Create(sessionID, fileID, playerName string, style prompt.Style) (*ConversationState, error) {
	if !r.store.ExistsTemplate(fileID) {
		return nil, fmt.Errorf("session: create %s from %s: %w", sessionID, fileID, ErrTemplateNotFound)
	}
	docs, err := r.store.MaterializeSession(sessionID, fileID)
	if err != nil {
		return nil, fmt.Errorf("session: create %s: %w", sessionID, err)
	}

	if playerName != "" {
		docs.Player.Profile.Name = playerName
		if err := r.store.SavePlayer(sessionID, docs.Player); err != nil {
			return nil, fmt.Errorf("session: create %s: %w", sessionID, err)
		}
	}
	if !style.Valid() {
		style = prompt.DefaultStyle
	}

	state := &ConversationState{
		SessionID:     sessionID,
		FileID:        fileID,
		PlayerName:    docs.Player.Profile.Name,
		LiteraryStyle: style,
		GameState: GameState{
			CurrentLocation: docs.Player.Location,
			IsInitialized:   false,
			CreatedAt:       time.Now().UTC(),
		},
	}
	if err := r.store.SaveSnapshot(sessionID, state); err != nil {
		return nil, fmt.Errorf("session: create %s: %w", sessionID, err)
	}

	r.mu.Lock()
	r.sessions[sessionID] = &sessionEntry{state: state}
	r.mu.Unlock()

	r.log.Info("session: created",
		"session", sessionID, "file", fileID, "player", state.PlayerName, "style", style)
	return state.clone(), nil
}

// Get returns a consistent snapshot of the live session state, or nil.
func (r *Runtime) Get(sessionID string) *ConversationState {
	r.mu.Lock()
	entry := r.sessions[sessionID]
	r.mu.Unlock()
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state.clone()
}

// Recover rehydrates the session from its on-disk snapshot when it is not in
// memory, e.g. after a restart. Returns the state, or ErrSessionNotFound.
func (r *Runtime) Recover(sessionID string) (*ConversationState, error) {
	if s := r.Get(sessionID); s != nil {
		return s, nil
	}

	var state ConversationState
	if err := r.store.LoadSnapshot(sessionID, &state); err != nil {
		if errors.Is(err, game.ErrNotFound) {
			return nil, fmt.Errorf("session: recover %s: %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("session: recover %s: %w", sessionID, err)
	}
	history, err := r.store.LoadHistory(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: recover %s: %w", sessionID, err)
	}
	state.History = history

	r.mu.Lock()
	// Another goroutine may have recovered concurrently; first one wins.
	if existing := r.sessions[sessionID]; existing != nil {
		r.mu.Unlock()
		return r.Get(sessionID), nil
	}
	r.sessions[sessionID] = &sessionEntry{state: &state}
	r.mu.Unlock()

	r.log.Info("session: recovered from snapshot",
		"session", sessionID, "turns", state.TurnCount, "history", len(state.History))
	return state.clone(), nil
}

// Close drops the session from memory. Its documents and snapshot stay on
// disk for later recovery.
func (r *Runtime) Close(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// SessionIDs returns the IDs of all sessions currently held in memory.
func (r *Runtime) SessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// entry returns the live session entry, attempting snapshot recovery when
// the session is not in memory.
func (r *Runtime) entry(sessionID string) (*sessionEntry, error) {
	r.mu.Lock()
	e := r.sessions[sessionID]
	r.mu.Unlock()
	if e != nil {
		return e, nil
	}
	if _, err := r.Recover(sessionID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	e = r.sessions[sessionID]
	r.mu.Unlock()
	if e == nil {
		return nil, fmt.Errorf("session: %s: %w", sessionID, ErrSessionNotFound)
	}
	return e, nil
}

// ProcessAction runs one player action through the full pipeline: prompt,
// LLM, parse, apply, mission tick, persist. Events for the action are
// published to the stream hub in a fixed order, ending with complete (or
// error).
func (r *Runtime) ProcessAction(ctx context.Context, sessionID, action string, mode StreamMode) (*ActionResult, error) {
	entry, err := r.entry(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return r.processLocked(ctx, entry.state, action, mode)
}

// UseItem resolves the inventory entry and submits the synthesized use
// action through the normal pipeline. The inventory decrement comes from
// whatever item delta the model emits, not from the use itself.
func (r *Runtime) UseItem(ctx context.Context, sessionID, itemID string, mode StreamMode) (*ActionResult, error) {
	entry, err := r.entry(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	item, err := r.statuse.LocateItem(sessionID, entry.state.FileID, itemID)
	if err != nil {
		return nil, fmt.Errorf("session: use item %s: %w", itemID, err)
	}
	return r.processLocked(ctx, entry.state, prompt.UseItemAction(item.Name), mode)
}

// ChangeScene moves the player, records a system history entry, and persists
// the snapshot. Fails without mutation when the scene is missing or locked.
func (r *Runtime) ChangeScene(ctx context.Context, sessionID, sceneID string) (*status.SceneChange, error) {
	entry, err := r.entry(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	state := entry.state

	change, err := r.statuse.ChangeScene(sessionID, state.FileID, sceneID)
	if err != nil {
		return nil, err
	}

	state.GameState.CurrentLocation = sceneID
	state.appendHistory(types.HistorySystem,
		fmt.Sprintf("Scene changed: %s → %s", change.From, change.To), "")
	if err := r.persist(state); err != nil {
		return nil, err
	}
	return change, nil
}

// processLocked is the action pipeline. The caller holds the session lock.
func (r *Runtime) processLocked(ctx context.Context, state *ConversationState, action string, mode StreamMode) (*ActionResult, error) {
	sessionID := state.SessionID

	r.hub.Publish(sessionID, stream.Event{Type: stream.EventActionReceived})
	r.hub.Publish(sessionID, stream.Event{Type: stream.EventProcessing})

	// Checkpoint for in-memory rollback on failure. Slice headers suffice:
	// appends never overwrite existing elements, so restoring the header
	// restores the window even after the cap evicted its oldest entry.
	histSnap := state.History
	convSnap := state.ConversationHistory
	gsSnap := state.GameState
	turnSnap := state.TurnCount
	missionsSnap := state.Missions
	lastMissionSnap := state.LastMissionTurn
	blockedSnap := state.BlockedByMissionID
	rollback := func() {
		state.History = histSnap
		state.ConversationHistory = convSnap
		state.GameState = gsSnap
		state.TurnCount = turnSnap
		state.Missions = missionsSnap
		state.LastMissionTurn = lastMissionSnap
		state.BlockedByMissionID = blockedSnap
	}

	state.appendHistory(types.HistoryPlayerAction, action, "")
	state.appendConversation(types.RoleUser, action)

	if blocking := state.BlockingMission(); blocking != nil && action != prompt.ContinuationAction {
		result, err := r.blockedReply(state, blocking)
		if err != nil {
			rollback()
		}
		return result, err
	}

	docs, err := r.loadDocs(state)
	if err != nil {
		rollback()
		r.publishError(sessionID, err)
		return nil, err
	}

	p := r.builder.BuildAction(prompt.ActionContext{
		Lore:           docs.Lore,
		Player:         docs.Player,
		Scenes:         docs.Scenes,
		Style:          state.LiteraryStyle,
		ActiveMissions: missionContexts(state.ActiveMissions()),
		History:        state.ConversationHistory[:len(state.ConversationHistory)-1],
		Action:         action,
		FirstTurn:      !state.GameState.IsInitialized,
	})

	text, err := r.invoke(ctx, sessionID, p, mode)
	if err != nil {
		rollback()
		r.publishError(sessionID, err)
		return nil, err
	}

	parsed := parser.Parse(text)

	player, err := r.statuse.Apply(sessionID, state.FileID, parsed.Deltas)
	if err != nil {
		rollback()
		r.publishError(sessionID, err)
		return nil, fmt.Errorf("session: apply deltas: %w", err)
	}

	state.appendConversation(types.RoleAssistant, text)
	for _, step := range parsed.Steps {
		switch step.Type {
		case parser.StepDialogue:
			state.appendHistory(types.HistoryDialogue, step.Text, step.CharacterID)
		case parser.StepHint:
			state.appendHistory(types.HistoryHint, step.Text, "")
		default:
			state.appendHistory(types.HistoryNarration, step.Text, "")
		}
	}

	state.GameState.IsInitialized = true
	state.GameState.LastAction = action
	state.TurnCount++

	r.hub.Publish(sessionID, stream.Event{Type: stream.EventStateUpdate, Data: stream.StateUpdatePayload{
		GameState:       state.GameState,
		CharacterStatus: player,
	}})
	if len(parsed.Options) > 0 {
		r.hub.Publish(sessionID, stream.Event{Type: stream.EventActionOptions, Data: stream.OptionsPayload{
			Options: parsed.Options,
		}})
	}

	result := &ActionResult{
		Response:        text,
		Steps:           parsed.Steps,
		ActionOptions:   parsed.Options,
		CharacterStatus: player,
	}

	r.tickMissions(ctx, state, docs, parsed.MissionFlag, result)

	if lore, err := r.store.SessionLore(sessionID, state.FileID); err == nil {
		lore.CurrentTime = lore.CurrentTime.Advance(int(r.gameHoursPerAction.Load()))
		if err := r.store.SaveLore(sessionID, lore); err != nil {
			r.log.Warn("session: advance game time", "session", sessionID, "error", err)
		}
	}

	if err := r.persist(state); err != nil {
		// Deltas and mission rewards already written to the player document
		// stay; the counters and windows roll back so a retried action
		// replays cleanly.
		rollback()
		r.publishError(sessionID, err)
		return nil, err
	}

	result.GameState = state.GameState
	r.hub.Publish(sessionID, stream.Event{Type: stream.EventComplete})
	return result, nil
}

// blockedReply short-circuits the pipeline with a canned narrative while a
// story mission blocks the storyline. The LLM is not called and no state
// beyond the history log changes.
func (r *Runtime) blockedReply(state *ConversationState, blocking *mission.Mission) (*ActionResult, error) {
	sessionID := state.SessionID
	text := prompt.BlockedNarrative(blocking.Title, blocking.Description)

	state.appendHistory(types.HistoryNarration, text, "")
	state.appendConversation(types.RoleAssistant, text)

	player, err := r.store.SessionPlayer(sessionID, state.FileID)
	if err != nil {
		r.publishError(sessionID, err)
		return nil, err
	}

	r.publishChunks(sessionID, text, ModeBuffered)
	r.hub.Publish(sessionID, stream.Event{Type: stream.EventStateUpdate, Data: stream.StateUpdatePayload{
		GameState:       state.GameState,
		CharacterStatus: player,
	}})

	if err := r.persist(state); err != nil {
		r.publishError(sessionID, err)
		return nil, err
	}

	r.hub.Publish(sessionID, stream.Event{Type: stream.EventComplete})
	r.log.Debug("session: storyline blocked", "session", sessionID, "mission", blocking.ID)
	return &ActionResult{
		Response:        text,
		Steps:           []parser.Step{{Type: parser.StepNarration, Text: text}},
		GameState:       state.GameState,
		CharacterStatus: player,
	}, nil
}

// invoke runs the LLM call in the requested mode and returns the full reply
// text. Buffered mode completes then slices; live mode forwards chunks as
// they arrive.
func (r *Runtime) invoke(ctx context.Context, sessionID string, p prompt.ActionPrompt, mode StreamMode) (string, error) {
	req := llm.CompletionRequest{
		Messages:     p.Messages,
		SystemPrompt: p.System,
	}

	if mode == ModeBuffered {
		resp, err := r.llm.Complete(ctx, req)
		if err != nil {
			return "", fmt.Errorf("session: %w: %v", ErrLLMFailure, err)
		}
		r.publishChunks(sessionID, resp.Content, mode)
		return resp.Content, nil
	}

	chunks, err := r.llm.StreamCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("session: %w: %v", ErrLLMFailure, err)
	}
	var full []byte
	for chunk := range chunks {
		if chunk.FinishReason == llm.FinishReasonError {
			return "", fmt.Errorf("session: %w: %s", ErrLLMFailure, chunk.Text)
		}
		if chunk.Text == "" {
			continue
		}
		full = append(full, chunk.Text...)
		r.hub.Publish(sessionID, stream.Event{Type: stream.EventStream, Data: stream.StreamPayload{Chunk: chunk.Text}})
	}
	if len(full) == 0 {
		return "", fmt.Errorf("session: %w: empty stream", ErrLLMFailure)
	}
	return string(full), nil
}

// publishChunks slices text into fixed-width rune chunks and publishes them
// as response_chunk events with a monotone index.
func (r *Runtime) publishChunks(sessionID, text string, mode StreamMode) {
	if mode != ModeBuffered {
		return
	}
	runes := []rune(text)
	width := int(r.chunkWidth.Load())
	total := (len(runes) + width - 1) / width
	for i := 0; i < total; i++ {
		end := (i + 1) * width
		if end > len(runes) {
			end = len(runes)
		}
		r.hub.Publish(sessionID, stream.Event{Type: stream.EventResponseChunk, Data: stream.ChunkPayload{
			Chunk: string(runes[i*width : end]),
			Index: i,
			Total: total,
		}})
	}
}

// tickMissions auto-resolves satisfied active missions and generates a new
// one on cadence. Failures never fail the action; they surface as warnings.
func (r *Runtime) tickMissions(ctx context.Context, state *ConversationState, docs *game.MaterializedDocs, modelFlag bool, result *ActionResult) {
	sessionID := state.SessionID

	for _, m := range state.ActiveMissions() {
		player, err := r.store.SessionPlayer(sessionID, state.FileID)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("mission check: %v", err))
			continue
		}
		satisfied := false
		for _, res := range r.missions.Evaluate(m, player) {
			if res.Completed {
				satisfied = true
				break
			}
		}
		if !satisfied {
			continue
		}
		if _, err := r.missions.Submit(sessionID, state.FileID, m); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("mission %s: %v", m.ID, err))
			continue
		}
		if state.BlockedByMissionID == m.ID {
			state.BlockedByMissionID = ""
		}
		result.Completed = append(result.Completed, m)
		r.hub.Publish(sessionID, stream.Event{Type: stream.EventMissionCompleted, Data: stream.MissionPayload{Mission: m}})
	}

	blocked := state.BlockingMission() != nil
	if !r.missions.ShouldGenerate(state.TurnCount, state.LastMissionTurn, modelFlag, blocked) {
		return
	}

	player, err := r.store.SessionPlayer(sessionID, state.FileID)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("mission generation: %v", err))
		return
	}
	m, err := r.missions.Generate(ctx, prompt.MissionRequest{
		Lore:      docs.Lore,
		Player:    player,
		Scenes:    docs.Scenes,
		TurnCount: state.TurnCount,
		StoryBeat: result.Response,
	})
	if err != nil {
		r.log.Warn("session: mission generation failed", "session", sessionID, "error", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("mission generation: %v", err))
		return
	}

	state.Missions = append(state.Missions, m)
	state.LastMissionTurn = state.TurnCount
	if m.Type == mission.TypeStory {
		state.BlockedByMissionID = m.ID
	}
	result.NewMission = m
	r.hub.Publish(sessionID, stream.Event{Type: stream.EventNewMission, Data: stream.MissionPayload{Mission: m}})
}

// loadDocs reads the session's world documents for prompt assembly.
func (r *Runtime) loadDocs(state *ConversationState) (*game.MaterializedDocs, error) {
	lore, err := r.store.SessionLore(state.SessionID, state.FileID)
	if err != nil {
		return nil, fmt.Errorf("session: load lore: %w", err)
	}
	player, err := r.store.SessionPlayer(state.SessionID, state.FileID)
	if err != nil {
		return nil, fmt.Errorf("session: load player: %w", err)
	}
	scenes, err := r.store.SessionScenes(state.SessionID, state.FileID)
	if err != nil {
		return nil, fmt.Errorf("session: load scenes: %w", err)
	}
	return &game.MaterializedDocs{Lore: lore, Player: player, Scenes: scenes}, nil
}

// persist writes the narrative log and the state snapshot.
func (r *Runtime) persist(state *ConversationState) error {
	if err := r.store.SaveHistory(state.SessionID, state.History); err != nil {
		return fmt.Errorf("session: persist history: %w", err)
	}
	if err := r.store.SaveSnapshot(state.SessionID, state); err != nil {
		return fmt.Errorf("session: persist snapshot: %w", err)
	}
	return nil
}

// publishError reports a pipeline failure on the session's event stream.
func (r *Runtime) publishError(sessionID string, err error) {
	r.log.Error("session: action failed", "session", sessionID, "error", err)
	r.hub.Publish(sessionID, stream.Event{Type: stream.EventError, Data: stream.ErrorPayload{Error: err.Error()}})
}

// missionContexts phrases active missions for the system prompt.
func missionContexts(missions []*mission.Mission) []prompt.MissionContext {
	out := make([]prompt.MissionContext, 0, len(missions))
	for _, m := range missions {
		mc := prompt.MissionContext{Title: m.Title, Description: m.Description}
		for _, path := range m.Paths {
			if path.Name != "" {
				mc.Objectives = append(mc.Objectives, path.Name)
			}
		}
		out = append(out, mc)
	}
	return out
}
