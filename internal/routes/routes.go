package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stitchdesk/stitchdesk/internal/app"
	"github.com/stitchdesk/stitchdesk/internal/handler"
	"github.com/stitchdesk/stitchdesk/internal/middleware"
	"github.com/stitchdesk/stitchdesk/internal/storage"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	health := handler.NewHealthHandler(app.KV)
	upload := handler.NewUploadHandler(app.UploadService, app.ConvertService, app.Cfg.UploadMaxBytes)
	file := handler.NewFileHandler(app.FileService, app.CleanupService)

	uploadLimiter := middleware.NewRateLimiter(app.KV, "upload", app.Cfg.RateLimitUploads, app.Cfg.RateLimitWindow)
	internal := middleware.RequireInternal(app.Cfg.InternalToken)
	handle := middleware.Handle

	mux := http.NewServeMux()

	// ============================================================================
	// PUBLIC ROUTES
	// ============================================================================

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Blobs (filesystem driver only; S3 serves its own URLs)
	if fs, ok := app.Storage.(*storage.FSStorage); ok {
		mux.Handle("GET /blobs/", http.StripPrefix("/blobs/", fs.Handler()))
	}

	// Upload & conversion (guests allowed)
	mux.HandleFunc("POST /api/upload", handle(upload.Upload, uploadLimiter.Limit))
	mux.HandleFunc("POST /api/convert-file", upload.Convert)

	// Status
	mux.HandleFunc("GET /api/status", file.Status)
	mux.HandleFunc("GET /api/progress", file.Progress)
	mux.HandleFunc("GET /api/serve-file", file.ServeFile)
	mux.HandleFunc("POST /api/log-download", file.LogDownload)
	mux.HandleFunc("GET /api/download-stats", file.DownloadStats)
	mux.HandleFunc("GET /api/file-versions", file.Versions)
	mux.HandleFunc("POST /api/rollback-file", file.Rollback)

	// ============================================================================
	// AUTHENTICATED ROUTES
	// ============================================================================

	mux.HandleFunc("POST /api/set-visibility", handle(file.SetVisibility, middleware.RequireAuth))
	mux.HandleFunc("POST /api/save-version", handle(file.SaveVersion, middleware.RequireAuth))
	mux.HandleFunc("DELETE /api/delete-file", handle(file.DeleteFile, middleware.RequireAuth))
	mux.HandleFunc("GET /api/file-info", handle(file.FileInfo, middleware.RequireAuth))
	mux.HandleFunc("POST /api/log-file-access", handle(file.LogAccess, middleware.RequireAuth))
	mux.HandleFunc("GET /api/file-access", handle(file.FileAccess, middleware.RequireAuth))
	mux.HandleFunc("GET /api/audit-logs", handle(file.AuditLogs, middleware.RequireAuth))

	// ============================================================================
	// ADMIN & INTERNAL ROUTES
	// ============================================================================

	mux.HandleFunc("GET /api/list-files", handle(file.ListFiles, middleware.RequireAdmin))
	mux.HandleFunc("POST /api/clean-up", handle(file.CleanUp, middleware.RequireAdmin))
	mux.HandleFunc("POST /api/update-status", handle(file.UpdateStatus, internal))

	return middleware.Chain(mux,
		middleware.Recover,
		middleware.Metrics,
		middleware.RequestLogging,
		middleware.Config(app.Cfg),
		middleware.Session(app.SessionService),
	)
}
