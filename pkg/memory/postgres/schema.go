// Package postgres provides the PostgreSQL-backed implementation of the
// engine's memory layers: the world-file catalog and the pgvector narrative
// index.
//
// Both layers share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//
//	_ = store.CreateFile(ctx, rec)              // catalog
//	_ = store.Narrative().IndexMoment(ctx, m)   // narrative index
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlWorldFiles = `
CREATE TABLE IF NOT EXISTS world_files (
    file_id     TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    title       TEXT         NOT NULL DEFAULT '',
    description TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_world_files_user_id
    ON world_files (user_id);

CREATE INDEX IF NOT EXISTS idx_world_files_created_at
    ON world_files (created_at);
`

// ddlMoments returns the narrative-index DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlMoments(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS moments (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    kind        TEXT         NOT NULL DEFAULT '',
    speaker     TEXT         NOT NULL DEFAULT '',
    embedding   vector(%d),
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_moments_session_id
    ON moments (session_id);

CREATE INDEX IF NOT EXISTS idx_moments_embedding
    ON moments USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every application start.
//
// embeddingDimensions must match the embedding model configured for the
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing it after the first migration requires a manual
// schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlWorldFiles,
		ddlMoments(embeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
