package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"model_registry/internal/models"

	"github.com/google/uuid"
)

const modelColumns = `id, name, group_name, variant, description, created_by, last_version, created_at`

// ModelRepository handles database operations for models
type ModelRepository struct {
	q querier

	// cache serves GetByName outside transactions; invalidate is only
	// cleared, never filled, from inside one.
	cache      *LRUCache[models.Model]
	invalidate *LRUCache[models.Model]
}

// Create inserts a model; ID and CreatedAt are filled in.
func (r *ModelRepository) Create(ctx context.Context, m *models.Model) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	query := `
		INSERT INTO models (id, name, group_name, variant, description, created_by, last_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := r.q.QueryRowxContext(ctx, query,
		m.ID, m.Name, m.GroupName, m.Variant, m.Description, m.CreatedBy, m.LastVersion,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create model: %w", translateError(err))
	}
	return nil
}

// GetByName retrieves a model by its unique name, using the cache when
// available.
func (r *ModelRepository) GetByName(ctx context.Context, name string) (*models.Model, error) {
	if r.cache != nil {
		if m, ok := r.cache.Get(name); ok {
			return &m, nil
		}
	}

	m, err := r.getByName(ctx, name, false)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Set(name, *m)
	}
	return m, nil
}

// GetByNameForUpdate reads the model with SELECT ... FOR UPDATE.
func (r *ModelRepository) GetByNameForUpdate(ctx context.Context, name string) (*models.Model, error) {
	return r.getByName(ctx, name, true)
}

func (r *ModelRepository) getByName(ctx context.Context, name string, lock bool) (*models.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE name = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var m models.Model
	err := r.q.GetContext(ctx, &m, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return &m, nil
}

// List returns every model, newest first.
func (r *ModelRepository) List(ctx context.Context) ([]*models.Model, error) {
	out := []*models.Model{}
	err := r.q.SelectContext(ctx, &out, `SELECT `+modelColumns+` FROM models ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return out, nil
}

// ListByGroup returns the models of one group ordered by variant.
func (r *ModelRepository) ListByGroup(ctx context.Context, group string) ([]*models.Model, error) {
	out := []*models.Model{}
	err := r.q.SelectContext(ctx, &out,
		`SELECT `+modelColumns+` FROM models WHERE group_name = $1 ORDER BY variant`, group)
	if err != nil {
		return nil, fmt.Errorf("failed to list models of group: %w", err)
	}
	return out, nil
}

// ListGroups returns models grouped by group name. Each variant carries
// its most recently updated alias and its number of versions.
func (r *ModelRepository) ListGroups(ctx context.Context) ([]*models.ModelGroup, error) {
	var rows []struct {
		GroupName string `db:"group_name"`
		models.GroupVariant
	}
	err := r.q.SelectContext(ctx, &rows, `
		SELECT m.id, m.name, m.group_name, m.variant, m.description, m.created_at,
			(SELECT a.alias FROM model_aliases a
				WHERE a.model_id = m.id
				ORDER BY a.updated_at DESC
				LIMIT 1) AS latest_alias,
			(SELECT COUNT(*) FROM model_versions v WHERE v.model_id = m.id) AS version_count
		FROM models m
		ORDER BY m.group_name, m.variant
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list model groups: %w", err)
	}

	groups := []*models.ModelGroup{}
	for i := range rows {
		variant := rows[i].GroupVariant
		if n := len(groups); n == 0 || groups[n-1].GroupName != rows[i].GroupName {
			groups = append(groups, &models.ModelGroup{GroupName: rows[i].GroupName})
		}
		last := groups[len(groups)-1]
		last.Variants = append(last.Variants, &variant)
	}
	return groups, nil
}

// SetLastVersion records the highest allocated version number.
func (r *ModelRepository) SetLastVersion(ctx context.Context, id uuid.UUID, version int) error {
	var name string
	err := r.q.GetContext(ctx, &name,
		`UPDATE models SET last_version = $2 WHERE id = $1 RETURNING name`, id, version)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrModelNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update model: %w", err)
	}
	r.forget(name)
	return nil
}

// Delete removes a model row. Dependent rows must be deleted first.
func (r *ModelRepository) Delete(ctx context.Context, id uuid.UUID) error {
	var name string
	err := r.q.GetContext(ctx, &name, `DELETE FROM models WHERE id = $1 RETURNING name`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrModelNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	r.forget(name)
	return nil
}

func (r *ModelRepository) forget(name string) {
	if r.cache != nil {
		r.cache.Delete(name)
	}
	if r.invalidate != nil {
		r.invalidate.Delete(name)
	}
}
