package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction names a registry mutation recorded in the audit trail.
type AuditAction string

const (
	ActionModelCreated    AuditAction = "model.created"
	ActionModelDeleted    AuditAction = "model.deleted"
	ActionVersionDeclared AuditAction = "version.declared"
	ActionVersionUploaded AuditAction = "version.uploaded"
	ActionUploadInitiated AuditAction = "upload.initiated"
	ActionUploadCompleted AuditAction = "upload.completed"
	ActionUploadAborted   AuditAction = "upload.aborted"
	ActionAliasSet        AuditAction = "alias.set"
	ActionAliasDeleted    AuditAction = "alias.deleted"
)

// AuditEvent is a single entry of the audit trail.
type AuditEvent struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	UserID    *uuid.UUID  `db:"user_id" json:"user_id,omitempty"`
	Action    AuditAction `db:"action" json:"action"`
	ModelName string      `db:"model_name" json:"model_name"`
	Version   *int        `db:"version" json:"version,omitempty"`
	Detail    JSONB       `db:"detail" json:"detail"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}
