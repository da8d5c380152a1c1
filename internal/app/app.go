package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stitchdesk/stitchdesk/internal/config"
	"github.com/stitchdesk/stitchdesk/internal/converter"
	"github.com/stitchdesk/stitchdesk/internal/db"
	"github.com/stitchdesk/stitchdesk/internal/kv"
	"github.com/stitchdesk/stitchdesk/internal/repository"
	"github.com/stitchdesk/stitchdesk/internal/service"
	"github.com/stitchdesk/stitchdesk/internal/storage"
)

type App struct {
	Cfg            *config.Config
	KV             kv.Store
	Storage        storage.Storage
	SessionService *service.SessionService
	EmailService   *service.EmailService
	UploadService  *service.UploadService
	ConvertService *service.ConvertService
	AccessService  *service.AccessService
	FileService    *service.FileService
	CleanupService *service.CleanupService
}

func New(cfg *config.Config) (*App, error) {
	store, err := openKV(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize status store: %w", err)
	}

	// Storage
	fileStorage, err := storage.New(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	return Wire(cfg, store, fileStorage, converter.NewClient(cfg.ConvertURL, http.DefaultClient)), nil
}

// Wire builds every service over the given backends.
func Wire(cfg *config.Config, store kv.Store, fileStorage storage.Storage, conv service.Converter) *App {
	statusRepository := repository.NewStatusRepository(store)
	locks := service.NewKeyLock()

	emailService := service.NewEmailService(
		cfg.ResendAPIKey,
		cfg.EmailFrom,
		cfg.AppURL,
		cfg.AppName,
		cfg.IsDevelopment(),
	)
	sessionService := service.NewSessionService(cfg.JWTSecret, cfg.JWTExpiry, cfg.IsProduction())
	accessService := service.NewAccessService(statusRepository, fileStorage, cfg.AccessCacheSize, cfg.AccessCacheTTL)
	uploadService := service.NewUploadService(statusRepository, fileStorage, locks, service.UploadConfig{
		MaxBytes:     cfg.UploadMaxBytes,
		Concurrency:  cfg.UploadConcurrency,
		ChunkSize:    cfg.UploadChunkSize,
		Retention:    cfg.BlobRetention,
		VersionLimit: cfg.VersionHistoryLimit,
	})
	convertService := service.NewConvertService(statusRepository, fileStorage, locks, conv, service.ConvertConfig{
		Timeout:      cfg.ConvertTimeout,
		VersionLimit: cfg.VersionHistoryLimit,
	})
	fileService := service.NewFileService(statusRepository, fileStorage, accessService, cfg.VersionHistoryLimit)
	cleanupService := service.NewCleanupService(statusRepository, fileStorage, accessService, emailService, locks, service.CleanupConfig{
		Retention:         cfg.BlobRetention,
		NoticeBefore:      cfg.ExpiryNoticeBefore,
		StaleUploadAfter:  cfg.StaleUploadAfter,
		StaleConvertAfter: cfg.ConvertTimeout + time.Minute,
	})

	return &App{
		Cfg:            cfg,
		KV:             store,
		Storage:        fileStorage,
		SessionService: sessionService,
		EmailService:   emailService,
		UploadService:  uploadService,
		ConvertService: convertService,
		AccessService:  accessService,
		FileService:    fileService,
		CleanupService: cleanupService,
	}
}

// openKV selects the status store backend from KV_DRIVER.
func openKV(cfg *config.Config) (kv.Store, error) {
	switch cfg.KVDriver {
	case "redis":
		store, err := kv.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sql", "":
		database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}

		// Run database migrations
		err = db.RunMigrations(database.DB, cfg.DBDriver)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return kv.NewSQLStore(database), nil
	default:
		return nil, fmt.Errorf("unknown kv driver %q", cfg.KVDriver)
	}
}

// StartBackground runs the retention sweep until ctx is done.
func (a *App) StartBackground(ctx context.Context) {
	go a.CleanupService.Run(ctx, a.Cfg.CleanupInterval)
}

func (a *App) Close() error {
	if a.KV != nil {
		return a.KV.Close()
	}
	return nil
}
