package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VersionStatus is the lifecycle state of a model version.
type VersionStatus string

const (
	VersionDeclared  VersionStatus = "declared"
	VersionUploading VersionStatus = "uploading"
	VersionCompleted VersionStatus = "completed"
	// VersionAborted is never stored: aborting deletes the version row.
	VersionAborted VersionStatus = "aborted"
)

// Valid reports whether s is a status that may be persisted.
func (s VersionStatus) Valid() bool {
	switch s {
	case VersionDeclared, VersionUploading, VersionCompleted:
		return true
	case VersionAborted:
		return false
	default:
		return false
	}
}

// ModelVersion is an immutable numbered snapshot of a model's artifacts.
type ModelVersion struct {
	ID                uuid.UUID     `db:"id" json:"id"`
	ModelID           uuid.UUID     `db:"model_id" json:"model_id"`
	Version           int           `db:"version" json:"version"`
	Prefix            string        `db:"s3_prefix" json:"s3_prefix"`
	Status            VersionStatus `db:"status" json:"status"`
	UploadFilename    string        `db:"upload_filename" json:"upload_filename,omitempty"`
	UploadContentType string        `db:"upload_content_type" json:"upload_content_type,omitempty"`
	ArtifactKey       string        `db:"artifact_key" json:"artifact_key,omitempty"`
	ArtifactURL       string        `db:"artifact_url" json:"artifact_url,omitempty"`
	TotalSize         int64         `db:"total_size" json:"total_size"`
	TotalChunks       int           `db:"total_chunks" json:"total_chunks"`
	Tags              JSONB         `db:"tags" json:"tags"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// VersionPrefix is the blob key prefix under which a version's files live.
func VersionPrefix(modelName string, version int) string {
	return fmt.Sprintf("%s/versions/%d", modelName, version)
}

// UploadChunk records one received chunk of a chunked upload.
type UploadChunk struct {
	VersionID   uuid.UUID `db:"version_id" json:"version_id"`
	ChunkNumber int       `db:"chunk_number" json:"chunk_number"`
	Path        string    `db:"path" json:"path"`
	Size        int64     `db:"size" json:"size"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
