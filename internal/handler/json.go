package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/stitchdesk/stitchdesk/internal/kv"
	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/service"
	"github.com/stitchdesk/stitchdesk/internal/validation"
)

var errBadJSON = errors.New("invalid JSON body")

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads a small JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil {
		return errBadJSON
	}
	return nil
}

// respondError maps service errors onto status codes and the JSON error body.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var convErr *service.ConversionError

	switch {
	case errors.As(err, &convErr):
		status := http.StatusBadGateway
		if convErr.Status == model.StatusTriggerError {
			status = http.StatusInternalServerError
		}
		writeError(w, status, convErr.Status)
	case errors.Is(err, service.ErrUploadFailed):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Upload failed", Details: err.Error()})
	case errors.Is(err, kv.ErrUnavailable):
		slog.Error("status store unavailable", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusServiceUnavailable, "Status store unavailable")
	case validation.IsInvalidFile(err),
		errors.Is(err, validation.ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNoFiles),
		errors.Is(err, service.ErrMissingFileURL),
		errors.Is(err, service.ErrInvalidVisibility),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, errBadJSON):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrAuthRequired):
		writeError(w, http.StatusUnauthorized, "Authentication required")
	case errors.Is(err, service.ErrNotOwner):
		writeError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, service.ErrVersionNotFound):
		writeError(w, http.StatusNotFound, "Version not found")
	case errors.Is(err, service.ErrFileNotFound):
		writeError(w, http.StatusNotFound, "File not found")
	default:
		slog.Error("request failed", "error", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
