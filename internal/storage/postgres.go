package storage

import (
	"context"
	"fmt"
	"time"

	"model_registry/internal/models"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db   *DB
	q    querier
	inTx bool
}

// NewPostgresStore returns a Store backed by db.
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{db: db, q: db.conn}
}

func (s *PostgresStore) Models() ModelStore {
	r := &ModelRepository{q: s.q}
	if !s.inTx {
		r.cache = s.db.modelCache
	} else {
		r.invalidate = s.db.modelCache
	}
	return r
}

func (s *PostgresStore) Versions() VersionStore { return &VersionRepository{q: s.q} }
func (s *PostgresStore) Chunks() ChunkStore     { return &ChunkRepository{q: s.q} }
func (s *PostgresStore) Aliases() AliasStore    { return &AliasRepository{q: s.q} }
func (s *PostgresStore) Users() UserStore       { return &UserRepository{q: s.q} }
func (s *PostgresStore) Audit() AuditStore      { return &AuditRepository{q: s.q} }

// InTx runs fn in a new transaction. Nested calls reuse the outer one.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&PostgresStore{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

// Stats summarizes the registry contents.
func (s *PostgresStore) Stats(ctx context.Context, since time.Time) (*models.DashboardStats, error) {
	stats := &models.DashboardStats{}

	counts := []struct {
		dest  *int
		query string
		args  []interface{}
	}{
		{&stats.TotalModels, `SELECT COUNT(*) FROM models`, nil},
		{&stats.TotalGroups, `SELECT COUNT(DISTINCT group_name) FROM models`, nil},
		{&stats.TotalVersions, `SELECT COUNT(*) FROM model_versions`, nil},
		{&stats.TotalAliases, `SELECT COUNT(*) FROM model_aliases`, nil},
		{&stats.RecentModels, `SELECT COUNT(*) FROM models WHERE created_at >= $1`, []interface{}{since}},
		{&stats.RecentVersions, `SELECT COUNT(*) FROM model_versions WHERE created_at >= $1`, []interface{}{since}},
	}
	for _, c := range counts {
		if err := s.q.GetContext(ctx, c.dest, c.query, c.args...); err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}

	stats.TopGroups = []models.GroupCount{}
	err := s.q.SelectContext(ctx, &stats.TopGroups, `
		SELECT m.group_name, COUNT(v.id) AS version_count
		FROM models m
		JOIN model_versions v ON v.model_id = m.id
		GROUP BY m.group_name
		ORDER BY version_count DESC, m.group_name
		LIMIT 5
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get top groups: %w", err)
	}

	stats.LatestModels = []*models.Model{}
	err = s.q.SelectContext(ctx, &stats.LatestModels, `
		SELECT `+modelColumns+` FROM models ORDER BY created_at DESC LIMIT 5
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest models: %w", err)
	}

	stats.LatestVersions = []*models.RecentVersion{}
	err = s.q.SelectContext(ctx, &stats.LatestVersions, `
		SELECT m.name AS model_name, v.version, v.status, v.created_at
		FROM model_versions v
		JOIN models m ON m.id = v.model_id
		ORDER BY v.created_at DESC
		LIMIT 5
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest versions: %w", err)
	}

	return stats, nil
}
