package storage

import (
	"context"
	"fmt"
	"time"

	"model_registry/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// AuditRepository handles database operations for audit events
type AuditRepository struct {
	q querier
}

// InsertBatch stores events in one multi-row statement.
func (r *AuditRepository) InsertBatch(ctx context.Context, events []*models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, e := range events {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.Detail == nil {
			e.Detail = models.JSONB{}
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
	}

	_, err := sqlx.NamedExecContext(ctx, r.q, `
		INSERT INTO audit_events (id, user_id, action, model_name, version, detail, created_at)
		VALUES (:id, :user_id, :action, :model_name, :version, :detail, :created_at)
	`, events)
	if err != nil {
		return fmt.Errorf("failed to insert audit events: %w", err)
	}
	return nil
}

// ListRecent returns the newest events first.
func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	out := []*models.AuditEvent{}
	err := r.q.SelectContext(ctx, &out, `
		SELECT id, user_id, action, model_name, version, detail, created_at
		FROM audit_events
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return out, nil
}
