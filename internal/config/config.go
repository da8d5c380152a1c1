package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	AppEnv  string
	AppURL  string
	Port    string

	// Status store (KV_DRIVER: "sql" or "redis", default: sql)
	KVDriver     string
	RedisURL     string
	DBDriver     string
	DBConnection string

	// Security
	JWTSecret     string
	JWTExpiry     time.Duration
	InternalToken string // shared secret for the conversion service calling update-status

	// Email
	EmailFrom    string
	ResendAPIKey string

	// Observability (optional)
	SentryDSN string

	// Storage (STORAGE_DRIVER: "s3" or "fs", default: fs)
	StorageDriver          string
	StoragePath            string // fs driver root
	S3Region               string
	S3Bucket               string
	S3AccessKey            string
	S3SecretKey            string
	S3Endpoint             string        // Optional: for S3-compatible services (MinIO, DO Spaces, R2, etc.)
	S3UsePathStyle         bool          // only applied with a custom endpoint
	S3PresignExpiryPrivate time.Duration // Expiry for serving private files

	// Conversion service
	ConvertURL     string
	ConvertTimeout time.Duration

	// Uploads
	UploadMaxBytes    int64
	UploadConcurrency int
	UploadChunkSize   int
	RateLimitUploads  int
	RateLimitWindow   time.Duration

	// Retention
	BlobRetention       time.Duration
	ExpiryNoticeBefore  time.Duration
	StaleUploadAfter    time.Duration
	CleanupInterval     time.Duration // 0 disables the background sweep
	VersionHistoryLimit int64         // 0 keeps every version

	// Access cache
	AccessCacheSize int
	AccessCacheTTL  time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		// Application
		AppName: envString("APP_NAME", "Stitchdesk"),
		AppEnv:  envRequired("APP_ENV"), // Required: 'development' or 'production'
		AppURL:  envRequired("APP_URL"), // Required: base URL for blob links and emails
		Port:    envString("PORT", "8090"),

		// Status store
		KVDriver:     envString("KV_DRIVER", "sql"),
		RedisURL:     envString("REDIS_URL", "redis://localhost:6379/0"),
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBConnection: envString("DB_CONNECTION", "./data/stitchdesk.db"),

		// Security
		JWTSecret:     envRequired("JWT_SECRET"),
		JWTExpiry:     envDuration("JWT_EXPIRY", 24*time.Hour),
		InternalToken: envString("INTERNAL_TOKEN", ""),

		// Email (RESEND_API_KEY optional in development, required in production)
		EmailFrom:    envString("EMAIL_FROM", "noreply@example.com"),
		ResendAPIKey: envString("RESEND_API_KEY", ""),

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),

		// Storage
		StorageDriver:          envString("STORAGE_DRIVER", "fs"),
		StoragePath:            envString("STORAGE_PATH", "./data/blobs"),
		S3Region:               envString("S3_REGION", "us-east-1"),
		S3Bucket:               envString("S3_BUCKET", ""),
		S3AccessKey:            envString("S3_ACCESS_KEY", ""),
		S3SecretKey:            envString("S3_SECRET_KEY", ""),
		S3Endpoint:             envString("S3_ENDPOINT", ""),
		S3UsePathStyle:         envBool("S3_USE_PATH_STYLE", true),
		S3PresignExpiryPrivate: envDuration("S3_PRESIGN_EXPIRY_PRIVATE", 1*time.Hour),

		// Conversion
		ConvertURL:     envRequired("CONVERT_URL"),
		ConvertTimeout: envDuration("CONVERT_TIMEOUT", 5*time.Minute),

		// Uploads
		UploadMaxBytes:    envInt64("UPLOAD_MAX_BYTES", 50<<20),
		UploadConcurrency: envInt("UPLOAD_CONCURRENCY", 4),
		UploadChunkSize:   envInt("UPLOAD_CHUNK_SIZE", 256<<10),
		RateLimitUploads:  envInt("RATE_LIMIT_UPLOADS", 10),
		RateLimitWindow:   envDuration("RATE_LIMIT_WINDOW", time.Minute),

		// Retention
		BlobRetention:       envDuration("BLOB_RETENTION", 30*24*time.Hour),
		ExpiryNoticeBefore:  envDuration("EXPIRY_NOTICE_BEFORE", 48*time.Hour),
		StaleUploadAfter:    envDuration("STALE_UPLOAD_AFTER", 1*time.Hour),
		CleanupInterval:     envDuration("CLEANUP_INTERVAL", 1*time.Hour),
		VersionHistoryLimit: envInt64("VERSION_HISTORY_LIMIT", 0),

		AccessCacheSize: envInt("ACCESS_CACHE_SIZE", 1024),
		AccessCacheTTL:  envDuration("ACCESS_CACHE_TTL", 30*time.Second),
	}

	// Production: validate required services
	if cfg.IsProduction() {
		validateProduction(cfg)
	}

	return cfg
}

// validateProduction ensures all required services are configured for production deployments.
// Development allows email to fall back to log mode.
func validateProduction(cfg *Config) {
	if cfg.ResendAPIKey == "" {
		slog.Error("production deployment requires RESEND_API_KEY",
			"hint", "set APP_ENV=development for local testing with email log mode")
		os.Exit(1)
	}
	if cfg.InternalToken == "" {
		slog.Error("production deployment requires INTERNAL_TOKEN",
			"hint", "the conversion service authenticates status updates with it")
		os.Exit(1)
	}
	if cfg.StorageDriver == "s3" && cfg.S3Bucket == "" {
		slog.Error("s3 storage requires S3_BUCKET")
		os.Exit(1)
	}
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Sanitized returns a copy of the config with only public/safe fields.
// All secrets, credentials, and connection strings are excluded.
func (c *Config) Sanitized() *Config {
	return &Config{
		AppName: c.AppName,
		AppEnv:  c.AppEnv,
		AppURL:  c.AppURL,
		Port:    c.Port,

		KVDriver:      c.KVDriver,
		DBDriver:      c.DBDriver,
		StorageDriver: c.StorageDriver,
		S3Region:      c.S3Region,
		S3Bucket:      c.S3Bucket,
		S3Endpoint:    c.S3Endpoint,

		EmailFrom: c.EmailFrom,

		ConvertURL:     c.ConvertURL,
		ConvertTimeout: c.ConvertTimeout,

		UploadMaxBytes:    c.UploadMaxBytes,
		UploadConcurrency: c.UploadConcurrency,
		UploadChunkSize:   c.UploadChunkSize,
		RateLimitUploads:  c.RateLimitUploads,
		RateLimitWindow:   c.RateLimitWindow,

		BlobRetention:       c.BlobRetention,
		ExpiryNoticeBefore:  c.ExpiryNoticeBefore,
		StaleUploadAfter:    c.StaleUploadAfter,
		CleanupInterval:     c.CleanupInterval,
		VersionHistoryLimit: c.VersionHistoryLimit,
	}
}
