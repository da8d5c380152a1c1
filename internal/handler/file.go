package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/stitchdesk/stitchdesk/internal/ctxkeys"
	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/service"
)

type FileHandler struct {
	fileService    *service.FileService
	cleanupService *service.CleanupService
}

func NewFileHandler(fileService *service.FileService, cleanupService *service.CleanupService) *FileHandler {
	return &FileHandler{
		fileService:    fileService,
		cleanupService: cleanupService,
	}
}

func fileURLParam(r *http.Request) string {
	return r.URL.Query().Get("fileUrl")
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *FileHandler) Status(w http.ResponseWriter, r *http.Request) {
	rec, err := h.fileService.Status(r.Context(), fileURLParam(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type progressResponse struct {
	Progress  int         `json:"progress"`
	Status    string      `json:"status"`
	Stage     model.Stage `json:"stage"`
	Timestamp *time.Time  `json:"timestamp"`
}

func (h *FileHandler) Progress(w http.ResponseWriter, r *http.Request) {
	view, err := h.fileService.Progress(r.Context(), fileURLParam(r))
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := progressResponse{
		Progress: view.Progress,
		Status:   view.Status.Status,
		Stage:    view.Status.Stage,
	}
	if !view.Status.Timestamp.IsZero() {
		resp.Timestamp = &view.Status.Timestamp
	}
	writeJSON(w, http.StatusOK, resp)
}

type updateStatusRequest struct {
	FileURL  string  `json:"fileUrl"`
	Status   string  `json:"status"`
	Stage    string  `json:"stage"`
	PesURL   *string `json:"pesUrl"`
	DstURL   *string `json:"dstUrl"`
	Progress *int    `json:"progress"`
}

// UpdateStatus lets the conversion service report intermediate states.
func (h *FileHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	_, err = h.fileService.UpdateStatus(r.Context(), req.FileURL, service.StatusUpdate{
		Status:   req.Status,
		Stage:    req.Stage,
		PesURL:   req.PesURL,
		DstURL:   req.DstURL,
		Progress: req.Progress,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

type setVisibilityRequest struct {
	FileURL    string           `json:"fileUrl"`
	Visibility model.Visibility `json:"visibility"`
}

func (h *FileHandler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	var req setVisibilityRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	err = h.fileService.SetVisibility(r.Context(), ctxkeys.Caller(r.Context()), req.FileURL, req.Visibility)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Visibility set to " + string(req.Visibility)})
}

// ServeFile redirects to a fetchable URL for the file, presigned for private
// files on S3.
func (h *FileHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	target, err := h.fileService.ServeURL(r.Context(), ctxkeys.Caller(r.Context()), fileURLParam(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

type logDownloadRequest struct {
	FileURL string `json:"fileUrl"`
	Format  string `json:"format"`
}

func (h *FileHandler) LogDownload(w http.ResponseWriter, r *http.Request) {
	var req logDownloadRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	err = h.fileService.LogDownload(r.Context(), req.FileURL, req.Format)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *FileHandler) DownloadStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.fileService.DownloadStats(r.Context(), fileURLParam(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type versionsResponse struct {
	Versions []model.VersionEntry `json:"versions"`
}

func (h *FileHandler) Versions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.fileService.Versions(r.Context(), fileURLParam(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versionsResponse{Versions: versions})
}

type rollbackRequest struct {
	FileURL string      `json:"fileUrl"`
	Version json.Number `json:"version"`
}

type rollbackResponse struct {
	RestoredFile string `json:"restoredFile"`
}

func (h *FileHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	version, err := req.Version.Int64()
	if err != nil {
		writeError(w, http.StatusBadRequest, "version must be an integer")
		return
	}

	restored, err := h.fileService.Rollback(r.Context(), req.FileURL, version)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rollbackResponse{RestoredFile: restored})
}

type saveVersionResponse struct {
	Message string `json:"message"`
	Version int64  `json:"version"`
}

func (h *FileHandler) SaveVersion(w http.ResponseWriter, r *http.Request) {
	var req fileURLRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	version, err := h.fileService.SaveVersion(r.Context(), ctxkeys.Caller(r.Context()), req.FileURL)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saveVersionResponse{Message: "Version saved", Version: version})
}

type listFilesResponse struct {
	Files []string `json:"files"`
}

func (h *FileHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.fileService.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listFilesResponse{Files: files})
}

func (h *FileHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	var req fileURLRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	err = h.fileService.Delete(r.Context(), ctxkeys.Caller(r.Context()), req.FileURL)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "File deleted"})
}

type cleanupResponse struct {
	Message string `json:"message"`
	service.CleanupReport
}

// CleanUp runs one retention sweep synchronously.
func (h *FileHandler) CleanUp(w http.ResponseWriter, r *http.Request) {
	report, err := h.cleanupService.Sweep(r.Context())
	if err != nil && report == (service.CleanupReport{}) {
		respondError(w, r, err)
		return
	}

	msg := "Cleanup complete"
	if err != nil {
		msg = "Cleanup finished with errors"
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Message: msg, CleanupReport: report})
}

func (h *FileHandler) FileInfo(w http.ResponseWriter, r *http.Request) {
	rec, err := h.fileService.Record(r.Context(), ctxkeys.Caller(r.Context()), fileURLParam(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type logAccessRequest struct {
	FileURL string `json:"fileUrl"`
}

func (h *FileHandler) LogAccess(w http.ResponseWriter, r *http.Request) {
	var req logAccessRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	err = h.fileService.LogAccess(r.Context(), ctxkeys.Caller(r.Context()), req.FileURL)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Access logged"})
}

type accessLogResponse struct {
	Logs []model.AccessEntry `json:"logs"`
}

func (h *FileHandler) FileAccess(w http.ResponseWriter, r *http.Request) {
	logs, err := h.fileService.AccessLog(r.Context(), ctxkeys.Caller(r.Context()), fileURLParam(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessLogResponse{Logs: logs})
}

func (h *FileHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.fileService.AuditLog(r.Context(), ctxkeys.Caller(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessLogResponse{Logs: logs})
}
