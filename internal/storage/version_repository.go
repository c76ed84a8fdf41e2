package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"model_registry/internal/models"

	"github.com/google/uuid"
)

const versionColumns = `id, model_id, version, s3_prefix, status, upload_filename, upload_content_type,
	artifact_key, artifact_url, total_size, total_chunks, tags, created_at, updated_at`

// VersionRepository handles database operations for model versions
type VersionRepository struct {
	q querier
}

// Create inserts a version; ID, CreatedAt and UpdatedAt are filled in.
func (r *VersionRepository) Create(ctx context.Context, v *models.ModelVersion) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Tags == nil {
		v.Tags = models.JSONB{}
	}

	query := `
		INSERT INTO model_versions (id, model_id, version, s3_prefix, status, upload_filename,
			upload_content_type, artifact_key, artifact_url, total_size, total_chunks, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err := r.q.QueryRowxContext(ctx, query,
		v.ID, v.ModelID, v.Version, v.Prefix, v.Status, v.UploadFilename,
		v.UploadContentType, v.ArtifactKey, v.ArtifactURL, v.TotalSize, v.TotalChunks, v.Tags,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create model version: %w", translateError(err))
	}
	return nil
}

// Get retrieves a version by model and number.
func (r *VersionRepository) Get(ctx context.Context, modelID uuid.UUID, version int) (*models.ModelVersion, error) {
	return r.getOne(ctx, `SELECT `+versionColumns+` FROM model_versions WHERE model_id = $1 AND version = $2`, modelID, version)
}

// GetByID retrieves a version by ID.
func (r *VersionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ModelVersion, error) {
	return r.getOne(ctx, `SELECT `+versionColumns+` FROM model_versions WHERE id = $1`, id)
}

// Latest retrieves the highest-numbered version of a model.
func (r *VersionRepository) Latest(ctx context.Context, modelID uuid.UUID) (*models.ModelVersion, error) {
	return r.getOne(ctx, `SELECT `+versionColumns+` FROM model_versions WHERE model_id = $1 ORDER BY version DESC LIMIT 1`, modelID)
}

func (r *VersionRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.ModelVersion, error) {
	var v models.ModelVersion
	err := r.q.GetContext(ctx, &v, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model version: %w", err)
	}
	return &v, nil
}

// MaxVersion returns the highest existing version number, or 0.
func (r *VersionRepository) MaxVersion(ctx context.Context, modelID uuid.UUID) (int, error) {
	var max int
	err := r.q.GetContext(ctx, &max, `SELECT COALESCE(MAX(version), 0) FROM model_versions WHERE model_id = $1`, modelID)
	if err != nil {
		return 0, fmt.Errorf("failed to get max version: %w", err)
	}
	return max, nil
}

// List returns all versions of a model, newest first.
func (r *VersionRepository) List(ctx context.Context, modelID uuid.UUID) ([]*models.ModelVersion, error) {
	out := []*models.ModelVersion{}
	err := r.q.SelectContext(ctx, &out,
		`SELECT `+versionColumns+` FROM model_versions WHERE model_id = $1 ORDER BY version DESC`, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list model versions: %w", err)
	}
	return out, nil
}

// Update writes the mutable fields of a version.
func (r *VersionRepository) Update(ctx context.Context, v *models.ModelVersion) error {
	if !v.Status.Valid() {
		return fmt.Errorf("invalid version status %q", v.Status)
	}

	query := `
		UPDATE model_versions
		SET status = $2, upload_filename = $3, upload_content_type = $4, artifact_key = $5,
			artifact_url = $6, total_size = $7, total_chunks = $8, tags = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.q.QueryRowxContext(ctx, query,
		v.ID, v.Status, v.UploadFilename, v.UploadContentType, v.ArtifactKey,
		v.ArtifactURL, v.TotalSize, v.TotalChunks, v.Tags,
	).Scan(&v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrVersionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update model version: %w", err)
	}
	return nil
}

// Delete removes a version row.
func (r *VersionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM model_versions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete model version: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrVersionNotFound
	}
	return nil
}

// DeleteByModel removes every version of a model.
func (r *VersionRepository) DeleteByModel(ctx context.Context, modelID uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM model_versions WHERE model_id = $1`, modelID); err != nil {
		return fmt.Errorf("failed to delete model versions: %w", err)
	}
	return nil
}
