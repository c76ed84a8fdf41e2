package storage

import (
	"context"
	"fmt"

	"model_registry/internal/models"

	"github.com/google/uuid"
)

// ChunkRepository handles database operations for upload chunks
type ChunkRepository struct {
	q querier
}

// Put records a chunk, replacing any earlier record of the same number.
func (r *ChunkRepository) Put(ctx context.Context, c *models.UploadChunk) error {
	query := `
		INSERT INTO upload_chunks (version_id, chunk_number, path, size, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (version_id, chunk_number)
		DO UPDATE SET path = EXCLUDED.path, size = EXCLUDED.size, updated_at = NOW()
		RETURNING updated_at
	`
	err := r.q.QueryRowxContext(ctx, query, c.VersionID, c.ChunkNumber, c.Path, c.Size).Scan(&c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to record chunk: %w", translateError(err))
	}
	return nil
}

// List returns the chunks of a version ordered by chunk number.
func (r *ChunkRepository) List(ctx context.Context, versionID uuid.UUID) ([]*models.UploadChunk, error) {
	out := []*models.UploadChunk{}
	err := r.q.SelectContext(ctx, &out, `
		SELECT version_id, chunk_number, path, size, updated_at
		FROM upload_chunks
		WHERE version_id = $1
		ORDER BY chunk_number
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return out, nil
}

// DeleteByVersion removes the chunk records of one version.
func (r *ChunkRepository) DeleteByVersion(ctx context.Context, versionID uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM upload_chunks WHERE version_id = $1`, versionID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// DeleteByModel removes the chunk records of every version of a model.
func (r *ChunkRepository) DeleteByModel(ctx context.Context, modelID uuid.UUID) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM upload_chunks
		WHERE version_id IN (SELECT id FROM model_versions WHERE model_id = $1)
	`, modelID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}
