package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"model_registry/internal/audit"
	"model_registry/internal/auth"
	"model_registry/internal/blobstore"
	"model_registry/internal/config"
	"model_registry/internal/httpapi"
	"model_registry/internal/logging"
	"model_registry/internal/ratelimit"
	"model_registry/internal/registry"
	"model_registry/internal/staging"
	"model_registry/internal/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// cacheSweepInterval is how often expired model cache entries are purged.
const cacheSweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("registry stopped", zap.Error(err))
	}
}

// closers run in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup closers
	defer cleanup.closeAll()

	if cfg.JWT.Secret == config.DefaultJWTSecret {
		logger.Warn("JWT_SECRET is the development default; set it before exposing the registry")
	}

	store, err := openMetadataStore(ctx, cfg, logger, &cleanup)
	if err != nil {
		return err
	}

	blobs, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	area, err := staging.NewOnDisk(cfg.Upload.StagingDir)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = storage.NewRedisClient(storage.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			MaxRetries:   storage.DefaultRedisConfig().MaxRetries,
		})
		if err != nil {
			return err
		}
		cleanup.add(func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed to close redis", zap.Error(err))
			}
		})
		logger.Info("connected to redis", zap.String("address", cfg.Redis.Address))
	}

	var opts []registry.Option
	if redisClient != nil {
		opts = append(opts, registry.WithResolveCache(storage.NewRedisResolveCache(redisClient, cfg.Cache.ResolveTTL)))
	}

	if cfg.Audit.Enabled {
		worker := startAuditWorker(ctx, cfg, store, redisClient, logger)
		cleanup.add(func() {
			if err := worker.Stop(); err != nil {
				logger.Warn("audit worker stopped with error", zap.Error(err))
			}
		})
		opts = append(opts, registry.WithEventPublisher(worker))
	}

	reg := registry.NewService(store, blobs, area, logger, registry.Config{ChunkSize: cfg.Upload.ChunkSize}, opts...)
	authSvc := auth.NewService(store.Users(), auth.NewTokenIssuer([]byte(cfg.JWT.Secret), cfg.JWT.TTL))

	deps := httpapi.Dependencies{
		Registry:     reg,
		Auth:         authSvc,
		Log:          logger,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		CookieSecure: cfg.JWT.CookieSecure,
	}
	if cfg.RateLimit.Enabled {
		deps.RateLimit = ratelimit.NewRateLimiter(redisClient)
		deps.RateLimitPerMinute = cfg.RateLimit.RequestsPerMinute
	}

	server := newServer(cfg.HTTP, httpapi.NewRouter(deps))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("model registry listening",
			zap.String("addr", server.Addr),
			zap.String("metadata", cfg.Metadata.Backend),
			zap.String("blob", cfg.Blob.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}

func openMetadataStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, cleanup *closers) (storage.Store, error) {
	if cfg.Metadata.Backend == config.BackendMemory {
		logger.Warn("using in-memory metadata store; data is lost on restart")
		return storage.NewMemoryStore(), nil
	}

	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ModelCacheSize:  cfg.Cache.ModelSize,
		ModelCacheTTL:   cfg.Cache.ModelTTL,
	})
	if err != nil {
		return nil, err
	}
	cleanup.add(func() {
		if err := db.Close(); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	})

	if cfg.Database.Migrate {
		if err := storage.Migrate(db, logger); err != nil {
			return nil, err
		}
	}

	go sweepModelCache(ctx, db)
	return storage.NewPostgresStore(db), nil
}

func sweepModelCache(ctx context.Context, db *storage.DB) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db.CleanupExpiredCacheEntries()
		}
	}
}

func openBlobStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (blobstore.Store, error) {
	if cfg.Blob.Backend == config.BackendMemory {
		logger.Warn("using in-memory blob store; artifacts are lost on restart")
		return blobstore.NewMemoryStore(cfg.S3.Bucket), nil
	}

	blobs, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
		Endpoint:     cfg.S3.Endpoint,
		Region:       cfg.S3.Region,
		Bucket:       cfg.S3.Bucket,
		AccessKey:    cfg.S3.AccessKey,
		SecretKey:    cfg.S3.SecretKey,
		UsePathStyle: cfg.S3.UsePathStyle,
	}, logger)
	if err != nil {
		return nil, err
	}

	bucketCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := blobs.EnsureBucket(bucketCtx); err != nil {
		return nil, fmt.Errorf("failed to prepare bucket %s: %w", cfg.S3.Bucket, err)
	}
	return blobs, nil
}

// startAuditWorker queues events in Redis when it is available so they
// survive a restart, in memory otherwise.
func startAuditWorker(ctx context.Context, cfg *config.Config, store storage.Store, client *redis.Client, logger *zap.Logger) *audit.Worker {
	qcfg := audit.DefaultConfig()
	qcfg.BatchSize = cfg.Audit.BatchSize
	qcfg.BatchTimeout = cfg.Audit.BatchTimeout
	qcfg.MaxRetries = cfg.Audit.MaxRetries
	qcfg.RetryBackoff = cfg.Audit.RetryBackoff

	var q audit.Queue
	if client != nil {
		q = audit.NewRedisQueue(client, qcfg)
	} else {
		q = audit.NewMemoryQueue(qcfg)
	}

	worker := audit.NewWorker(q, store.Audit(), logger, qcfg)
	worker.Start(ctx)
	return worker
}

// newServer bounds how long a client may take to send headers but leaves
// request bodies unbounded unless read_timeout is set, so multi-gigabyte
// uploads are not cut off mid-stream.
func newServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}
