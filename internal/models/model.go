package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultVariant is used when a model is created without a variant.
const DefaultVariant = "base"

// Model is a named family of artifacts. Its name is always
// "{group_name}:{variant}".
type Model struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	GroupName   string    `db:"group_name" json:"group_name"`
	Variant     string    `db:"variant" json:"variant"`
	Description string    `db:"description" json:"description"`
	CreatedBy   uuid.UUID `db:"created_by" json:"created_by"`
	// LastVersion is the highest version number ever allocated for the
	// model, including versions that were deleted since.
	LastVersion int       `db:"last_version" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ModelName derives the unique model name from group and variant.
func ModelName(group, variant string) string {
	return group + ":" + variant
}

// SplitModelName is the inverse of ModelName. The variant is everything
// after the last colon so that group names may contain colons.
func SplitModelName(name string) (group, variant string, err error) {
	i := strings.LastIndex(name, ":")
	if i <= 0 || i == len(name)-1 {
		return "", "", fmt.Errorf("model name %q is not of the form group:variant", name)
	}
	return name[:i], name[i+1:], nil
}

// GroupVariant is one variant entry in a group listing.
type GroupVariant struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Variant      string    `db:"variant" json:"variant"`
	Description  string    `db:"description" json:"description"`
	LatestAlias  *string   `db:"latest_alias" json:"latest_alias"`
	VersionCount int       `db:"version_count" json:"version_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ModelGroup collects every variant sharing a group name.
type ModelGroup struct {
	GroupName string          `json:"group_name"`
	Variants  []*GroupVariant `json:"variants"`
}
