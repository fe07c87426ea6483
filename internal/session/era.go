package session

import (
	"errors"
	"fmt"

	"github.com/joffreyzhang/kurangame/internal/game"
	"github.com/joffreyzhang/kurangame/pkg/types"
)

// ErrAlreadyAtLastEra is returned when the lore has no further era to skip
// into.
var ErrAlreadyAtLastEra = errors.New("session: already at last era")

// TimeChange describes the clock jump of an era skip.
type TimeChange struct {
	FromYear    int `json:"fromYear"`
	ToYear      int `json:"toYear"`
	YearsPassed int `json:"yearsPassed"`
}

// PlayerChanges describes what an era skip did to the character.
type PlayerChanges struct {
	AgeDelta      int            `json:"ageDelta"`
	Attributes    map[string]int `json:"attributes,omitempty"`
	CurrencyBonus int            `json:"currencyBonus,omitempty"`
}

// EraSkip is the structured diff returned by SkipToNextEra.
type EraSkip struct {
	PreviousEra   game.Era      `json:"previousEra"`
	CurrentEra    game.Era      `json:"currentEra"`
	TimeChange    TimeChange    `json:"timeChange"`
	PlayerChanges PlayerChanges `json:"playerChanges"`
	Narrative     string        `json:"narrative"`
}

// SkipToNextEra advances the lore into the next era: the clock jumps to the
// era's start year, the player ages by the elapsed years, the era's stat
// growth and currency bonus are applied, and a system history entry narrates
// the skip. Game time never auto-advances across era bounds; this is the only
// way to cross them.
func (r *Runtime) SkipToNextEra(sessionID string) (*EraSkip, error) {
	entry, err := r.entry(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	state := entry.state

	lore, err := r.store.SessionLore(sessionID, state.FileID)
	if err != nil {
		return nil, fmt.Errorf("session: skip era: %w", err)
	}
	if lore.AtLastEra() {
		return nil, fmt.Errorf("session: skip era for %s: %w", sessionID, ErrAlreadyAtLastEra)
	}
	prev := *lore.CurrentEra()
	next := lore.Eras[lore.CurrentEraIndex+1]

	yearsPassed := next.StartYear - lore.CurrentTime.Year
	if yearsPassed < 0 {
		yearsPassed = 0
	}

	player, err := r.store.SessionPlayer(sessionID, state.FileID)
	if err != nil {
		return nil, fmt.Errorf("session: skip era: %w", err)
	}

	lore.CurrentEraIndex++
	lore.CurrentTime = game.GameTime{Year: next.StartYear}

	player.Profile.Age += yearsPassed
	if len(next.StatsGrowth) > 0 && player.Attributes == nil {
		player.Attributes = make(map[string]int)
	}
	for attr, growth := range next.StatsGrowth {
		if growth > 0 {
			player.Attributes[attr] += growth
		}
	}
	player.Currency += next.CurrencyBonus
	player.Normalize()

	if err := r.store.SaveLore(sessionID, lore); err != nil {
		return nil, fmt.Errorf("session: skip era: %w", err)
	}
	if err := r.store.SavePlayer(sessionID, player); err != nil {
		return nil, fmt.Errorf("session: skip era: %w", err)
	}

	narrative := fmt.Sprintf("%d years pass. The era of %s gives way to the era of %s. %s",
		yearsPassed, prev.Title, next.Title, next.Description)
	state.appendHistory(types.HistorySystem, narrative, "")
	if err := r.persist(state); err != nil {
		return nil, err
	}

	r.log.Info("session: era skipped",
		"session", sessionID, "from", prev.Title, "to", next.Title, "years", yearsPassed)

	return &EraSkip{
		PreviousEra: prev,
		CurrentEra:  next,
		TimeChange: TimeChange{
			FromYear:    next.StartYear - yearsPassed,
			ToYear:      next.StartYear,
			YearsPassed: yearsPassed,
		},
		PlayerChanges: PlayerChanges{
			AgeDelta:      yearsPassed,
			Attributes:    next.StatsGrowth,
			CurrencyBonus: next.CurrencyBonus,
		},
		Narrative: narrative,
	}, nil
}
