package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// MemoryStore keeps objects in process memory. It backs local
// development runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memObject

	// PutHook, when set, is called before every Put; a non-nil error
	// fails the Put.
	PutHook func(key string) error
}

// NewMemoryStore creates an empty store for bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: map[string]memObject{}}
}

func (s *MemoryStore) Bucket() string   { return s.bucket }
func (s *MemoryStore) Endpoint() string { return "memory://" }

func (s *MemoryStore) EnsureBucket(ctx context.Context) error { return ctx.Err() }
func (s *MemoryStore) CheckBucket(ctx context.Context) error  { return ctx.Err() }

func (s *MemoryStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (string, error) {
	if s.PutHook != nil {
		if err := s.PutHook(key); err != nil {
			return "", err
		}
	}

	data, err := io.ReadAll(io.LimitReader(body, size))
	if err != nil {
		return "", fmt.Errorf("failed to read body of %s: %w", key, err)
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("short body for %s: got %d bytes, want %d", key, len(data), size)
	}
	if contentType == "" {
		contentType = DefaultContentType
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{data: data, contentType: contentType, modified: time.Now().UTC()}
	return URL(s.bucket, key), nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
	}, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := strings.TrimSuffix(prefix, "/") + "/"
	out := []ObjectInfo{}
	for key, obj := range s.objects {
		if strings.HasPrefix(key, p) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
