package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/joffreyzhang/kurangame/pkg/memory"
)

var (
	_ memory.Catalog        = (*Store)(nil)
	_ memory.NarrativeIndex = (*NarrativeIndexImpl)(nil)
)

// Store backs the memory layer with PostgreSQL. One [pgxpool.Pool] serves
// both roles: the Store itself is the [memory.Catalog], and Narrative hands
// out the [memory.NarrativeIndex] built on the same pool.
//
// All operations are safe for concurrent use.
type Store struct {
	pool      *pgxpool.Pool
	narrative *NarrativeIndexImpl
}

// NewStore connects to the database at dsn, verifies the connection, and
// brings the schema up to date via [Migrate]. pgvector types are registered
// on every pooled connection so vector columns scan into pgvector.Vector.
//
// embeddingDimensions fixes the width of the vector column and must match
// the embedding model producing [memory.Moment.Embedding] values.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool, narrative: &NarrativeIndexImpl{pool: pool}}, nil
}

// Narrative returns the narrative-index implementation.
func (s *Store) Narrative() *NarrativeIndexImpl { return s.narrative }

// Pool exposes the underlying connection pool, e.g. for readiness probes.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
