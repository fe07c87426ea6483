package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/joffreyzhang/kurangame/pkg/memory"
)

// CreateFile implements [memory.Catalog]. Re-inserting the same fileId
// replaces the record; the ingest workflow may re-run its database
// checkpoint after a resume.
func (s *Store) CreateFile(ctx context.Context, rec memory.FileRecord) error {
	const q = `
		INSERT INTO world_files (file_id, user_id, title, description, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
		ON CONFLICT (file_id) DO UPDATE SET
		    user_id     = EXCLUDED.user_id,
		    title       = EXCLUDED.title,
		    description = EXCLUDED.description`

	var createdAt any
	if !rec.CreatedAt.IsZero() {
		createdAt = rec.CreatedAt
	}
	if _, err := s.pool.Exec(ctx, q, rec.FileID, rec.UserID, rec.Title, rec.Description, createdAt); err != nil {
		return fmt.Errorf("catalog: create file %s: %w", rec.FileID, err)
	}
	return nil
}

// GetFile implements [memory.Catalog].
func (s *Store) GetFile(ctx context.Context, fileID string) (memory.FileRecord, error) {
	const q = `
		SELECT file_id, user_id, title, description, created_at
		FROM   world_files
		WHERE  file_id = $1`

	var rec memory.FileRecord
	err := s.pool.QueryRow(ctx, q, fileID).Scan(
		&rec.FileID, &rec.UserID, &rec.Title, &rec.Description, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.FileRecord{}, fmt.Errorf("catalog: file %s: %w", fileID, memory.ErrNotFound)
	}
	if err != nil {
		return memory.FileRecord{}, fmt.Errorf("catalog: get file %s: %w", fileID, err)
	}
	return rec, nil
}

// ListFilesByUser implements [memory.Catalog]. Newest first.
func (s *Store) ListFilesByUser(ctx context.Context, userID string) ([]memory.FileRecord, error) {
	const q = `
		SELECT file_id, user_id, title, description, created_at
		FROM   world_files
		WHERE  user_id = $1
		ORDER  BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list files for %s: %w", userID, err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.FileRecord, error) {
		var rec memory.FileRecord
		err := row.Scan(&rec.FileID, &rec.UserID, &rec.Title, &rec.Description, &rec.CreatedAt)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: scan rows: %w", err)
	}
	if records == nil {
		records = []memory.FileRecord{}
	}
	return records, nil
}

// DeleteFile implements [memory.Catalog]. Deleting a missing record is a
// no-op.
func (s *Store) DeleteFile(ctx context.Context, fileID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM world_files WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("catalog: delete file %s: %w", fileID, err)
	}
	return nil
}
