package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joffreyzhang/kurangame/pkg/types"
)

// defaultIndexInterval is the default period between indexing ticks.
const defaultIndexInterval = 5 * time.Minute

// Rememberer embeds and stores one narrative moment in the semantic memory.
// Satisfied by memory.SemanticRecaller.
type Rememberer interface {
	Remember(ctx context.Context, sessionID, kind, speaker, text string, ts time.Time) error
}

// Indexer periodically flushes new narrative-log entries of every live
// session into the semantic memory, so NPC chat recall covers long sessions
// whose early events no longer fit any transcript window.
//
// All methods are safe for concurrent use.
type Indexer struct {
	runtime    *Runtime
	rememberer Rememberer
	interval   time.Duration
	log        *slog.Logger

	mu sync.Mutex
	// lastIndex tracks how many history entries per session have already
	// been indexed, to avoid writing duplicates.
	lastIndex map[string]int
	done      chan struct{}
	stopOnce  sync.Once
}

// IndexerConfig configures an [Indexer].
type IndexerConfig struct {
	// Runtime is the session runtime whose histories are indexed.
	Runtime *Runtime

	// Rememberer writes moments to the semantic memory.
	Rememberer Rememberer

	// Interval is how often to index. Defaults to 5 minutes if zero.
	Interval time.Duration

	// Logger receives warnings about partial failures. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// NewIndexer creates a new [Indexer] with the given configuration.
func NewIndexer(cfg IndexerConfig) *Indexer {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultIndexInterval
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		runtime:    cfg.Runtime,
		rememberer: cfg.Rememberer,
		interval:   interval,
		log:        log,
		lastIndex:  make(map[string]int),
		done:       make(chan struct{}),
	}
}

// Start begins periodic indexing in a background goroutine. The goroutine
// runs until [Indexer.Stop] is called or ctx is cancelled.
func (ix *Indexer) Start(ctx context.Context) {
	go ix.loop(ctx)
}

// Stop halts the indexing loop. Safe to call multiple times.
func (ix *Indexer) Stop() {
	ix.stopOnce.Do(func() {
		close(ix.done)
	})
}

// IndexNow performs an immediate indexing pass over all live sessions.
func (ix *Indexer) IndexNow(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.index(ctx)
}

func (ix *Indexer) loop(ctx context.Context) {
	ticker := time.NewTicker(ix.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ix.done:
			return
		case <-ticker.C:
			ix.mu.Lock()
			if err := ix.index(ctx); err != nil {
				ix.log.Warn("periodic memory indexing incomplete", "error", err)
			}
			ix.mu.Unlock()
		}
	}
}

// index writes each session's new history entries to the semantic memory.
// Must be called with ix.mu held.
func (ix *Indexer) index(ctx context.Context) error {
	var firstErr error
	for _, sessionID := range ix.runtime.SessionIDs() {
		state := ix.runtime.Get(sessionID)
		if state == nil {
			continue
		}
		start := ix.lastIndex[sessionID]
		if start >= len(state.History) {
			continue
		}
		for i := start; i < len(state.History); i++ {
			entry := state.History[i]
			// Player actions are queries, not memories; the reply steps
			// carry the narrative content worth recalling.
			if entry.Type == types.HistoryPlayerAction {
				continue
			}
			err := ix.rememberer.Remember(ctx, sessionID, string(entry.Type), entry.Speaker, entry.Text, entry.Timestamp)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("index %s entry %d: %w", sessionID, i, err)
				}
				ix.log.Warn("failed to index history entry",
					"session", sessionID, "index", i, "error", err)
				// Partial indexing is better than none; keep going.
			}
		}
		ix.lastIndex[sessionID] = len(state.History)
	}
	return firstErr
}
