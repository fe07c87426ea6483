package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// MemoryGuard wraps a [Recaller] and a [Rememberer] so that semantic-memory
// failures degrade gracefully instead of breaking gameplay: a failed recall
// returns no memories, a failed remember is dropped, and the guard flips into
// a degraded state that health checks can surface.
//
// The guard recovers automatically: the first successful call clears the
// degraded flag.
type MemoryGuard struct {
	recaller   Recaller
	rememberer Rememberer
	log        *slog.Logger

	degraded atomic.Bool
}

// Compile-time interface checks.
var (
	_ Recaller   = (*MemoryGuard)(nil)
	_ Rememberer = (*MemoryGuard)(nil)
)

// NewMemoryGuard wraps the given semantic-memory backends. Either may be nil,
// in which case the corresponding operation becomes a no-op.
func NewMemoryGuard(recaller Recaller, rememberer Rememberer, log *slog.Logger) *MemoryGuard {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryGuard{recaller: recaller, rememberer: rememberer, log: log}
}

// Recall implements [Recaller]. On backend failure it logs, marks the guard
// degraded and returns an empty result with a nil error.
func (g *MemoryGuard) Recall(ctx context.Context, sessionID, query string, k int) ([]string, error) {
	if g.recaller == nil {
		return nil, nil
	}
	texts, err := g.recaller.Recall(ctx, sessionID, query, k)
	if err != nil {
		g.degraded.Store(true)
		g.log.Warn("semantic recall failed, continuing without memories",
			"session", sessionID, "error", err)
		return nil, nil
	}
	g.degraded.Store(false)
	return texts, nil
}

// Remember implements [Rememberer]. On backend failure it logs, marks the
// guard degraded and drops the moment.
func (g *MemoryGuard) Remember(ctx context.Context, sessionID, kind, speaker, text string, ts time.Time) error {
	if g.rememberer == nil {
		return nil
	}
	if err := g.rememberer.Remember(ctx, sessionID, kind, speaker, text, ts); err != nil {
		g.degraded.Store(true)
		g.log.Warn("semantic memory write failed, moment dropped",
			"session", sessionID, "kind", kind, "error", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// IsDegraded reports whether the most recent semantic-memory operation
// failed.
func (g *MemoryGuard) IsDegraded() bool {
	return g.degraded.Load()
}
