// Package registry implements the model registry: the version and
// chunked-upload lifecycle, chunk assembly, alias and version
// resolution, and the catalog of models, aliases and files.
package registry

import (
	"context"
	"time"

	"model_registry/internal/auth"
	"model_registry/internal/blobstore"
	"model_registry/internal/models"
	"model_registry/internal/staging"
	"model_registry/internal/storage"

	"go.uber.org/zap"
)

const (
	// DefaultChunkSize is the chunk size advertised to clients.
	DefaultChunkSize = 100 << 20
	// MaxChunks bounds chunk numbers to [1, MaxChunks].
	MaxChunks = 10000
)

// Config tunes the service.
type Config struct {
	ChunkSize int64
	// RecentWindow is how far back dashboard "recent" counts look.
	RecentWindow time.Duration
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		RecentWindow: 7 * 24 * time.Hour,
	}
}

// ResolveCache caches resolutions per model name and selector.
//
// Entries belong to a generation of their model. Get reports the
// current generation even on a miss, and Set stores under the
// generation the caller read, so a resolution computed before an
// Invalidate is never served after it.
type ResolveCache interface {
	Get(ctx context.Context, modelName, selector string) (res *models.Resolution, generation int64, ok bool, err error)
	Set(ctx context.Context, modelName, selector string, generation int64, res *models.Resolution) error
	Invalidate(ctx context.Context, modelName string) error
}

// EventPublisher receives audit events.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.AuditEvent) error
}

// Service is the registry's application layer.
type Service struct {
	store   storage.Store
	blobs   blobstore.Store
	staging *staging.Area
	cache   ResolveCache
	events  EventPublisher
	log     *zap.Logger
	cfg     Config
	now     func() time.Time
}

// Option configures optional collaborators.
type Option func(*Service)

// WithResolveCache enables resolution caching.
func WithResolveCache(c ResolveCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithEventPublisher enables the audit trail.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// NewService wires the registry.
func NewService(store storage.Store, blobs blobstore.Store, area *staging.Area, log *zap.Logger, cfg Config, opts ...Option) *Service {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultConfig().RecentWindow
	}

	s := &Service{
		store:   store,
		blobs:   blobs,
		staging: area,
		log:     log.Named("registry"),
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Health checks the metadata store and the bucket. It is read-only.
func (s *Service) Health(ctx context.Context) error {
	if err := s.store.Health(ctx); err != nil {
		return ErrInternal.Wrap(err)
	}
	if err := s.blobs.CheckBucket(ctx); err != nil {
		return ErrInternal.Wrap(err)
	}
	return nil
}

// invalidate drops cached resolutions of a model. Failures are logged.
func (s *Service) invalidate(ctx context.Context, modelName string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, modelName); err != nil {
		s.log.Warn("failed to invalidate resolve cache", zap.String("model", modelName), zap.Error(err))
	}
}

// record publishes an audit event. Failures are logged.
func (s *Service) record(ctx context.Context, action models.AuditAction, modelName string, version int, detail models.JSONB) {
	if s.events == nil {
		return
	}

	event := &models.AuditEvent{
		Action:    action,
		ModelName: modelName,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	}
	if version > 0 {
		event.Version = &version
	}
	if id, ok := auth.UserIDFromContext(ctx); ok {
		event.UserID = &id
	}

	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn("failed to publish audit event", zap.String("action", string(action)), zap.Error(err))
	}
}
