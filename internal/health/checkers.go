package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMemoryDegraded is returned by the semantic-memory checker while the
// memory backend is unreachable and sessions run without recall.
var ErrMemoryDegraded = errors.New("health: semantic memory degraded")

// DegradedReporter is implemented by components that can run in a degraded
// mode, such as the session memory guard.
type DegradedReporter interface {
	IsDegraded() bool
}

// MemoryCheck returns a Checker that fails while the semantic memory layer
// is degraded. A nil reporter yields a checker that always passes, for
// deployments running file-only without a vector store.
func MemoryCheck(r DegradedReporter) Checker {
	return Checker{
		Name: "memory",
		Check: func(context.Context) error {
			if r != nil && r.IsDegraded() {
				return ErrMemoryDegraded
			}
			return nil
		},
	}
}

// DataDirCheck returns a Checker that probes whether the data directory is
// writable by creating and removing a marker file.
func DataDirCheck(dir string) Checker {
	return Checker{
		Name: "data_dir",
		Check: func(context.Context) error {
			probe := filepath.Join(dir, ".health")
			if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
				return fmt.Errorf("health: data dir not writable: %w", err)
			}
			return os.Remove(probe)
		},
	}
}

// PostgresCheck returns a Checker that pings the connection pool.
func PostgresCheck(pool *pgxpool.Pool) Checker {
	return Checker{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	}
}
