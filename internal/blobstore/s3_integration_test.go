package blobstore

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Runs against MinIO when MINIO_ENDPOINT is set, e.g.
//
//	docker run -d -p 9000:9000 -e MINIO_ROOT_USER=minioadmin \
//	  -e MINIO_ROOT_PASSWORD=minioadmin minio/minio server /data
//	MINIO_ENDPOINT=http://localhost:9000 go test ./internal/blobstore/
func newMinioStore(t *testing.T) *S3Store {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set, skipping S3 integration test")
	}
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	if accessKey == "" {
		accessKey = "minioadmin"
	}
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	if secretKey == "" {
		secretKey = "minioadmin"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewS3Store(ctx, S3Config{
		Endpoint:     endpoint,
		Region:       "us-east-1",
		Bucket:       "registry-test-" + uuid.NewString()[:8],
		AccessKey:    accessKey,
		SecretKey:    secretKey,
		UsePathStyle: true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.EnsureBucket(ctx))
	return s
}

func TestS3Store_RoundTrip(t *testing.T) {
	s := newMinioStore(t)
	ctx := context.Background()

	// Idempotent.
	require.NoError(t, s.EnsureBucket(ctx))

	key := Key("bert:base/versions/1", "weights.bin")
	url, err := s.Put(ctx, key, strings.NewReader("payload"), 7, "")
	require.NoError(t, err)
	assert.Equal(t, URL(s.Bucket(), key), url)

	list, err := s.List(ctx, "bert:base/versions/1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, key, list[0].Key)
	assert.Equal(t, int64(7), list[0].Size)

	obj, err := s.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(obj.Body)
	obj.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store_CheckBucketNeverCreates(t *testing.T) {
	s := newMinioStore(t)
	ctx := context.Background()
	require.NoError(t, s.CheckBucket(ctx))

	cfg := s.cfg
	cfg.Bucket = "registry-missing-" + uuid.NewString()[:8]
	missing, err := NewS3Store(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Error(t, missing.CheckBucket(ctx))
	assert.Error(t, missing.CheckBucket(ctx), "bucket must still be absent")
}
