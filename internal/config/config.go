// Package config loads the registry configuration from defaults,
// an optional config file (REGISTRY_CONFIG) and environment variables.
// Every key maps to an environment variable by upper-casing it and
// replacing dots with underscores: "s3.bucket" is S3_BUCKET.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names.
const (
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendMemory   = "memory"
)

// DefaultJWTSecret is only suitable for local development.
const DefaultJWTSecret = "supersecretkey"

// Config holds configuration for the registry.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Metadata  BackendConfig   `mapstructure:"metadata"`
	Blob      BackendConfig   `mapstructure:"blob"`
	Database  DatabaseConfig  `mapstructure:"database"`
	S3        S3Config        `mapstructure:"s3"`
	Upload    UploadConfig    `mapstructure:"upload"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Log       LogConfig       `mapstructure:"log"`
}

// HTTPConfig holds server settings. ReadTimeout and WriteTimeout are zero
// by default so large uploads and downloads are not cut off; slow clients
// are bounded by ReadHeaderTimeout instead.
type HTTPConfig struct {
	Port              string        `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// BackendConfig selects an implementation.
type BackendConfig struct {
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Migrate         bool          `mapstructure:"migrate"`
}

// S3Config holds object store settings.
type S3Config struct {
	Endpoint     string `mapstructure:"endpoint"`
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// UploadConfig holds chunked upload settings.
type UploadConfig struct {
	StagingDir string `mapstructure:"staging_dir"`
	ChunkSize  int64  `mapstructure:"chunk_size"`
}

// JWTConfig holds token settings.
type JWTConfig struct {
	Secret       string        `mapstructure:"secret"`
	TTL          time.Duration `mapstructure:"ttl"`
	CookieSecure bool          `mapstructure:"cookie_secure"`
}

// CacheConfig holds cache settings
type CacheConfig struct {
	ModelSize  int           `mapstructure:"model_size"`
	ModelTTL   time.Duration `mapstructure:"model_ttl"`
	ResolveTTL time.Duration `mapstructure:"resolve_ttl"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RateLimitConfig limits mutating requests per user. It needs Redis.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

// AuditConfig tunes the audit worker. The queue lives in Redis when
// Redis is enabled, in process memory otherwise.
type AuditConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// LogConfig selects the log level and encoder.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

var defaults = map[string]any{
	"http.port":                "8080",
	"http.read_header_timeout": 10 * time.Second,
	"http.read_timeout":        time.Duration(0),
	"http.write_timeout":       time.Duration(0),
	"http.shutdown_timeout":    30 * time.Second,
	"http.cors_origins":        []string{"*"},

	"metadata.backend": BackendPostgres,
	"blob.backend":     BackendS3,

	"database.url":                "",
	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  5 * time.Minute,
	"database.conn_max_idle_time": time.Minute,
	"database.migrate":            true,

	"s3.endpoint":       "",
	"s3.region":         "us-east-1",
	"s3.bucket":         "models",
	"s3.access_key":     "",
	"s3.secret_key":     "",
	"s3.use_path_style": true,

	"upload.staging_dir": "/tmp/model-registry/uploads",
	"upload.chunk_size":  int64(100 << 20),

	"jwt.secret":        DefaultJWTSecret,
	"jwt.ttl":           7 * 24 * time.Hour,
	"jwt.cookie_secure": false,

	"cache.model_size":  500,
	"cache.model_ttl":   15 * time.Minute,
	"cache.resolve_ttl": 5 * time.Minute,

	"redis.enabled":        false,
	"redis.address":        "localhost:6379",
	"redis.password":       "",
	"redis.db":             0,
	"redis.pool_size":      10,
	"redis.min_idle_conns": 2,
	"redis.dial_timeout":   5 * time.Second,
	"redis.read_timeout":   3 * time.Second,
	"redis.write_timeout":  3 * time.Second,

	"ratelimit.enabled":             false,
	"ratelimit.requests_per_minute": 600,

	"audit.enabled":       true,
	"audit.batch_size":    100,
	"audit.batch_timeout": 5 * time.Second,
	"audit.max_retries":   3,
	"audit.retry_backoff": time.Second,

	"log.level":       "info",
	"log.development": false,
}

// Load reads configuration from defaults, the file named by
// REGISTRY_CONFIG (if any) and the environment, then validates it.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("REGISTRY_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Metadata.Backend {
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s metadata backend", BackendPostgres)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown METADATA_BACKEND %q", c.Metadata.Backend)
	}

	switch c.Blob.Backend {
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the %s blob backend", BackendS3)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.Blob.Backend)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.JWT.TTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}
	if c.Upload.StagingDir == "" {
		return fmt.Errorf("UPLOAD_STAGING_DIR must not be empty")
	}
	if c.RateLimit.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("RATELIMIT_ENABLED requires REDIS_ENABLED")
	}
	return nil
}
