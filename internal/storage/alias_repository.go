package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"model_registry/internal/models"

	"github.com/google/uuid"
)

// AliasRepository handles database operations for model aliases
type AliasRepository struct {
	q querier
}

// Upsert creates or repoints an alias.
func (r *AliasRepository) Upsert(ctx context.Context, a *models.ModelAlias) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	query := `
		INSERT INTO model_aliases (id, model_id, alias, version_id, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (model_id, alias)
		DO UPDATE SET version_id = EXCLUDED.version_id, updated_at = NOW()
		RETURNING id, updated_at
	`
	err := r.q.QueryRowxContext(ctx, query, a.ID, a.ModelID, a.Alias, a.VersionID).Scan(&a.ID, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert alias: %w", translateError(err))
	}
	return nil
}

// Get retrieves an alias of a model, with its target version number.
func (r *AliasRepository) Get(ctx context.Context, modelID uuid.UUID, alias string) (*models.ModelAlias, error) {
	var a models.ModelAlias
	err := r.q.GetContext(ctx, &a, `
		SELECT a.id, a.model_id, a.alias, a.version_id, a.updated_at, COALESCE(v.version, 0) AS version
		FROM model_aliases a
		LEFT JOIN model_versions v ON v.id = a.version_id
		WHERE a.model_id = $1 AND a.alias = $2
	`, modelID, alias)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAliasNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alias: %w", err)
	}
	return &a, nil
}

// List returns a model's aliases, most recently updated first.
func (r *AliasRepository) List(ctx context.Context, modelID uuid.UUID) ([]*models.ModelAlias, error) {
	out := []*models.ModelAlias{}
	err := r.q.SelectContext(ctx, &out, `
		SELECT a.id, a.model_id, a.alias, a.version_id, a.updated_at, COALESCE(v.version, 0) AS version
		FROM model_aliases a
		LEFT JOIN model_versions v ON v.id = a.version_id
		WHERE a.model_id = $1
		ORDER BY a.updated_at DESC
	`, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	return out, nil
}

// Delete removes one alias.
func (r *AliasRepository) Delete(ctx context.Context, modelID uuid.UUID, alias string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM model_aliases WHERE model_id = $1 AND alias = $2`, modelID, alias)
	if err != nil {
		return fmt.Errorf("failed to delete alias: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAliasNotFound
	}
	return nil
}

// DeleteByModel removes every alias of a model.
func (r *AliasRepository) DeleteByModel(ctx context.Context, modelID uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM model_aliases WHERE model_id = $1`, modelID); err != nil {
		return fmt.Errorf("failed to delete aliases: %w", err)
	}
	return nil
}

// DeleteByVersion removes every alias pointing at a version.
func (r *AliasRepository) DeleteByVersion(ctx context.Context, versionID uuid.UUID) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM model_aliases WHERE version_id = $1`, versionID); err != nil {
		return fmt.Errorf("failed to delete aliases: %w", err)
	}
	return nil
}
