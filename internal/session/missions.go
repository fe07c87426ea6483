package session

import (
	"context"
	"fmt"

	"github.com/joffreyzhang/kurangame/internal/mission"
	"github.com/joffreyzhang/kurangame/internal/prompt"
	"github.com/joffreyzhang/kurangame/internal/stream"
)

// SubmitOutcome is the reply of a mission submit, optionally carrying the
// storyline continuation produced when a blocking story mission resolved.
type SubmitOutcome struct {
	Result       *mission.SubmitResult `json:"result"`
	Mission      *mission.Mission      `json:"mission"`
	Continuation *ActionResult         `json:"continuation,omitempty"`
}

// AbandonOutcome is the reply of a mission abandon.
type AbandonOutcome struct {
	Mission            *mission.Mission `json:"mission"`
	StorylineUnblocked bool             `json:"storylineUnblocked"`
	Continuation       *ActionResult    `json:"continuation,omitempty"`
}

// StorylineStatus is the synchronous storyline query result.
type StorylineStatus struct {
	Blocked               bool             `json:"blocked"`
	Mission               *mission.Mission `json:"mission,omitempty"`
	HasActiveStoryMission bool             `json:"hasActiveStoryMission"`
}

// Missions returns the session's mission list.
func (r *Runtime) Missions(sessionID string) ([]*mission.Mission, error) {
	entry, err := r.entry(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return append([]*mission.Mission(nil), entry.state.Missions...), nil
}

// SubmitMission validates the mission's paths against the player state and
// completes it on the first satisfied path. If the completed mission was
// blocking the storyline, the runtime clears the block and streams a
// continuation beat.
func (r *Runtime) SubmitMission(ctx context.Context, sessionID, missionID string, mode StreamMode) (*SubmitOutcome, error) {
	entry, err := r.entry(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	state := entry.state

	m := state.FindMission(missionID)
	if m == nil {
		return nil, fmt.Errorf("session: mission %s: %w", missionID, ErrMissionNotFound)
	}
	wasBlocking := m.Blocking()

	result, err := r.missions.Submit(sessionID, state.FileID, m)
	if err != nil {
		return nil, err
	}

	outcome := &SubmitOutcome{Result: result, Mission: m}
	if !result.Completed {
		if err := r.persist(state); err != nil {
			return nil, err
		}
		return outcome, nil
	}

	r.hub.Publish(sessionID, stream.Event{Type: stream.EventMissionCompleted, Data: stream.MissionPayload{Mission: m}})

	if wasBlocking && state.BlockedByMissionID == m.ID {
		state.BlockedByMissionID = ""
		continuation, err := r.processLocked(ctx, state, prompt.ContinuationAction, mode)
		if err != nil {
			// The mission completed and rewards are committed; the failed
			// continuation is the next action's problem.
			r.log.Warn("session: storyline continuation failed",
				"session", sessionID, "mission", m.ID, "error", err)
		} else {
			outcome.Continuation = continuation
		}
	}

	if err := r.persist(state); err != nil {
		return nil, err
	}
	return outcome, nil
}

// AbandonMission marks an active mission abandoned. Abandoning the blocking
// story mission unblocks the storyline and streams a continuation beat.
func (r *Runtime) AbandonMission(ctx context.Context, sessionID, missionID string, mode StreamMode) (*AbandonOutcome, error) {
	entry, err := r.entry(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	state := entry.state

	m := state.FindMission(missionID)
	if m == nil {
		return nil, fmt.Errorf("session: mission %s: %w", missionID, ErrMissionNotFound)
	}

	wasBlocking, err := r.missions.Abandon(sessionID, m)
	if err != nil {
		return nil, err
	}

	unblocked := wasBlocking && state.BlockedByMissionID == m.ID
	if unblocked {
		state.BlockedByMissionID = ""
	}
	r.hub.Publish(sessionID, stream.Event{Type: stream.EventMissionAbandoned, Data: stream.AbandonPayload{
		Mission:            m,
		StorylineUnblocked: unblocked,
	}})

	outcome := &AbandonOutcome{Mission: m, StorylineUnblocked: unblocked}
	if unblocked {
		continuation, err := r.processLocked(ctx, state, prompt.ContinuationAction, mode)
		if err != nil {
			r.log.Warn("session: storyline continuation failed",
				"session", sessionID, "mission", m.ID, "error", err)
		} else {
			outcome.Continuation = continuation
		}
	}

	if err := r.persist(state); err != nil {
		return nil, err
	}
	return outcome, nil
}

// Storyline reports whether the storyline is blocked and by what. It takes
// the session lock only briefly for a consistent read.
func (r *Runtime) Storyline(sessionID string) (*StorylineStatus, error) {
	entry, err := r.entry(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	state := entry.state

	blocking := state.BlockingMission()
	hasActive := false
	for _, m := range state.Missions {
		if m.Blocking() {
			hasActive = true
			break
		}
	}
	return &StorylineStatus{
		Blocked:               blocking != nil,
		Mission:               blocking,
		HasActiveStoryMission: hasActive,
	}, nil
}
