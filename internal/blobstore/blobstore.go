// Package blobstore stores artifact bytes in an S3-compatible object
// store under keys of the form "{model_name}/versions/{version}/{filename}".
package blobstore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("object not found")

// DefaultContentType is used when an upload does not carry one.
const DefaultContentType = "application/octet-stream"

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Object is an open stored object. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// Store is an object store bound to one bucket.
type Store interface {
	// EnsureBucket creates the bucket when it does not exist yet.
	EnsureBucket(ctx context.Context) error
	// CheckBucket reports whether the bucket is reachable without
	// modifying anything.
	CheckBucket(ctx context.Context) error
	// Put stores size bytes read from body and returns the object's URL.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (string, error)
	Get(ctx context.Context, key string) (*Object, error)
	// List returns the objects whose key starts with prefix + "/".
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error

	Bucket() string
	Endpoint() string
}

// Key joins a version prefix and a file name.
func Key(prefix, filename string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + path.Base(filename)
}

// URL renders the s3:// URL of a key or prefix in bucket.
func URL(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
