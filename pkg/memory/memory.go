// Package memory defines the two persistent memory layers the engine keeps
// beyond the per-session JSON documents:
//
//   - Catalog: relational records for generated world files — which user owns
//     which fileId, with title and description for listing.
//   - NarrativeIndex: a vector store over narrative moments, supporting
//     embedding-based similarity search. NPC chat uses it to let characters
//     recall events that fell out of their transcript window.
//
// Both interfaces are public so alternative backends (Postgres/pgvector,
// in-memory, …) can be supplied without depending on engine internals.
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a catalog record does not exist.
var ErrNotFound = errors.New("memory: not found")

// FileRecord is one generated world file in the catalog.
type FileRecord struct {
	// FileID is the world-template identifier the game store keys its
	// documents by.
	FileID string

	// UserID is the owner who uploaded the source document.
	UserID string

	// Title is the generated world title, shown in file listings.
	Title string

	// Description is a short generated synopsis of the world.
	Description string

	// CreatedAt is when the ingest workflow created the record.
	CreatedAt time.Time
}

// Catalog stores world-file records and the user → file linkage.
type Catalog interface {
	// CreateFile inserts the record. A record with the same FileID is
	// replaced; the ingest workflow may re-run its database checkpoint after
	// a resume.
	CreateFile(ctx context.Context, rec FileRecord) error

	// GetFile returns the record for the fileId, or ErrNotFound.
	GetFile(ctx context.Context, fileID string) (FileRecord, error)

	// ListFilesByUser returns the user's records, newest first.
	ListFilesByUser(ctx context.Context, userID string) ([]FileRecord, error)

	// DeleteFile removes the record. Deleting a missing record is a no-op.
	DeleteFile(ctx context.Context, fileID string) error
}

// Moment is one indexed narrative event. It carries its pre-computed
// embedding so the index never re-embeds on insertion.
type Moment struct {
	// ID is the unique identifier for this moment (e.g., a UUID).
	ID string

	// SessionID is the session the moment happened in.
	SessionID string

	// Text is the narrative content.
	Text string

	// Kind is the history entry type that produced the moment
	// (narration, dialogue, hint, system).
	Kind string

	// Speaker is the NPC id for dialogue moments. Empty otherwise.
	Speaker string

	// Embedding is the vector representation of Text. Its dimension must
	// match the index configuration.
	Embedding []float32

	// Timestamp is when the moment was recorded.
	Timestamp time.Time
}

// MomentFilter narrows a search to a subset of indexed moments. All non-zero
// fields are applied as AND conditions.
type MomentFilter struct {
	// SessionID restricts results to a single session.
	SessionID string

	// Speaker restricts results to a specific speaker.
	Speaker string

	// After filters moments recorded after this instant (exclusive).
	After time.Time

	// Before filters moments recorded before this instant (exclusive).
	Before time.Time
}

// MomentResult pairs a retrieved moment with its vector-space distance from
// the query embedding. Lower distance means higher similarity.
type MomentResult struct {
	Moment   Moment
	Distance float64
}

// NarrativeIndex is the vector store over narrative moments.
type NarrativeIndex interface {
	// IndexMoment upserts a pre-embedded moment. A moment with the same ID
	// is completely replaced.
	IndexMoment(ctx context.Context, m Moment) error

	// Search returns the topK moments closest to the query embedding,
	// ordered by ascending distance, optionally filtered.
	Search(ctx context.Context, embedding []float32, topK int, filter MomentFilter) ([]MomentResult, error)
}
