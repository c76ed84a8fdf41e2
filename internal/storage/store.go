package storage

import (
	"context"
	"time"

	"model_registry/internal/models"

	"github.com/google/uuid"
)

// Store is the registry's metadata store. Writes made through the Store
// handed to an InTx callback commit together or not at all.
type Store interface {
	Models() ModelStore
	Versions() VersionStore
	Chunks() ChunkStore
	Aliases() AliasStore
	Users() UserStore
	Audit() AuditStore

	// Stats summarizes the registry; "recent" counts include rows created
	// at or after since.
	Stats(ctx context.Context, since time.Time) (*models.DashboardStats, error)

	// InTx runs fn inside a transaction. A non-nil error from fn rolls
	// the transaction back and is returned unchanged.
	InTx(ctx context.Context, fn func(tx Store) error) error

	Health(ctx context.Context) error
}

// ModelStore persists models.
type ModelStore interface {
	Create(ctx context.Context, m *models.Model) error
	GetByName(ctx context.Context, name string) (*models.Model, error)
	// GetByNameForUpdate locks the model row until the surrounding
	// transaction ends.
	GetByNameForUpdate(ctx context.Context, name string) (*models.Model, error)
	List(ctx context.Context) ([]*models.Model, error)
	ListByGroup(ctx context.Context, group string) ([]*models.Model, error)
	ListGroups(ctx context.Context) ([]*models.ModelGroup, error)
	SetLastVersion(ctx context.Context, id uuid.UUID, version int) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// VersionStore persists model versions.
type VersionStore interface {
	Create(ctx context.Context, v *models.ModelVersion) error
	Get(ctx context.Context, modelID uuid.UUID, version int) (*models.ModelVersion, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.ModelVersion, error)
	// Latest returns the version with the highest number.
	Latest(ctx context.Context, modelID uuid.UUID) (*models.ModelVersion, error)
	// MaxVersion returns 0 when the model has no versions.
	MaxVersion(ctx context.Context, modelID uuid.UUID) (int, error)
	// List returns versions newest first.
	List(ctx context.Context, modelID uuid.UUID) ([]*models.ModelVersion, error)
	// Update writes status, upload fields and tags, and refreshes UpdatedAt.
	Update(ctx context.Context, v *models.ModelVersion) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByModel(ctx context.Context, modelID uuid.UUID) error
}

// ChunkStore persists per-chunk upload records.
type ChunkStore interface {
	// Put inserts the chunk or replaces the record already stored for
	// the same (version, chunk number).
	Put(ctx context.Context, c *models.UploadChunk) error
	List(ctx context.Context, versionID uuid.UUID) ([]*models.UploadChunk, error)
	DeleteByVersion(ctx context.Context, versionID uuid.UUID) error
	DeleteByModel(ctx context.Context, modelID uuid.UUID) error
}

// AliasStore persists model aliases.
type AliasStore interface {
	// Upsert creates the alias or repoints an existing one, refreshing
	// UpdatedAt. ID and UpdatedAt are filled in on return.
	Upsert(ctx context.Context, a *models.ModelAlias) error
	Get(ctx context.Context, modelID uuid.UUID, alias string) (*models.ModelAlias, error)
	// List returns aliases most recently updated first.
	List(ctx context.Context, modelID uuid.UUID) ([]*models.ModelAlias, error)
	Delete(ctx context.Context, modelID uuid.UUID, alias string) error
	DeleteByModel(ctx context.Context, modelID uuid.UUID) error
	DeleteByVersion(ctx context.Context, versionID uuid.UUID) error
}

// UserStore persists user accounts.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// AuditStore persists audit events.
type AuditStore interface {
	InsertBatch(ctx context.Context, events []*models.AuditEvent) error
	ListRecent(ctx context.Context, limit int) ([]*models.AuditEvent, error)
}
