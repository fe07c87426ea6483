package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/joffreyzhang/kurangame/pkg/memory"
)

// NarrativeIndexImpl is the narrative memory layer backed by a PostgreSQL
// moments table with a pgvector HNSW index for fast approximate
// nearest-neighbour search.
//
// Obtain one via [Store.Narrative] rather than constructing directly.
// All methods are safe for concurrent use.
type NarrativeIndexImpl struct {
	pool *pgxpool.Pool
}

// IndexMoment implements [memory.NarrativeIndex]. It upserts a pre-embedded
// moment; a moment with the same ID is completely replaced.
func (n *NarrativeIndexImpl) IndexMoment(ctx context.Context, m memory.Moment) error {
	const q = `
		INSERT INTO moments (id, session_id, text, kind, speaker, embedding, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    session_id = EXCLUDED.session_id,
		    text       = EXCLUDED.text,
		    kind       = EXCLUDED.kind,
		    speaker    = EXCLUDED.speaker,
		    embedding  = EXCLUDED.embedding,
		    timestamp  = EXCLUDED.timestamp`

	vec := pgvector.NewVector(m.Embedding)
	if _, err := n.pool.Exec(ctx, q, m.ID, m.SessionID, m.Text, m.Kind, m.Speaker, vec, m.Timestamp); err != nil {
		return fmt.Errorf("narrative index: index moment: %w", err)
	}
	return nil
}

// Search implements [memory.NarrativeIndex]. It finds the topK moments whose
// embeddings are closest (cosine distance) to the query embedding, optionally
// filtered. Results are ordered by ascending distance.
func (n *NarrativeIndexImpl) Search(ctx context.Context, embedding []float32, topK int, filter memory.MomentFilter) ([]memory.MomentResult, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(filter.SessionID))
	}
	if filter.Speaker != "" {
		conditions = append(conditions, "speaker = "+next(filter.Speaker))
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "timestamp > "+next(filter.After))
	}
	if !filter.Before.IsZero() {
		conditions = append(conditions, "timestamp < "+next(filter.Before))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, session_id, text, kind, speaker, embedding, timestamp,
		       embedding <=> $1 AS distance
		FROM   moments
		%s
		ORDER  BY distance
		LIMIT  %s`, whereClause, limitArg)

	rows, err := n.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("narrative index: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.MomentResult, error) {
		var (
			mr  memory.MomentResult
			vec pgvector.Vector
		)
		if err := row.Scan(
			&mr.Moment.ID,
			&mr.Moment.SessionID,
			&mr.Moment.Text,
			&mr.Moment.Kind,
			&mr.Moment.Speaker,
			&vec,
			&mr.Moment.Timestamp,
			&mr.Distance,
		); err != nil {
			return memory.MomentResult{}, err
		}
		mr.Moment.Embedding = vec.Slice()
		return mr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("narrative index: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.MomentResult{}
	}
	return results, nil
}
