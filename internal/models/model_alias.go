package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxAliasLength bounds alias names.
const MaxAliasLength = 64

// ModelAlias is a mutable named pointer to one version of a model.
type ModelAlias struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ModelID   uuid.UUID `db:"model_id" json:"model_id"`
	Alias     string    `db:"alias" json:"alias"`
	VersionID uuid.UUID `db:"version_id" json:"version_id"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// Version is the target's version number, filled by list queries.
	Version int `db:"version" json:"version"`
}
