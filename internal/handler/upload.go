package handler

import (
	"errors"
	"net/http"

	"github.com/stitchdesk/stitchdesk/internal/ctxkeys"
	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/service"
)

// maxFilesPerRequest bounds the multipart body together with the per-file size.
const maxFilesPerRequest = 20

type UploadHandler struct {
	uploadService  *service.UploadService
	convertService *service.ConvertService
	maxFileBytes   int64
}

func NewUploadHandler(uploadService *service.UploadService, convertService *service.ConvertService, maxFileBytes int64) *UploadHandler {
	return &UploadHandler{
		uploadService:  uploadService,
		convertService: convertService,
		maxFileBytes:   maxFileBytes,
	}
}

type uploadResponse struct {
	URLs []model.UploadedFile `json:"urls"`
}

// Upload stores the multipart field "files" for the session caller, or the
// guest when there is none.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	caller := ctxkeys.Caller(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileBytes*maxFilesPerRequest+1<<20)
	err := r.ParseMultipartForm(32 << 20)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files, err := h.uploadService.Upload(r.Context(), caller, r.MultipartForm.File["files"])
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{URLs: files})
}

type fileURLRequest struct {
	FileURL string `json:"fileUrl"`
}

type convertResponse struct {
	Message string  `json:"message"`
	PesURL  *string `json:"pesUrl"`
	DstURL  *string `json:"dstUrl"`
}

// Convert runs a conversion and answers once it has reached a terminal status.
func (h *UploadHandler) Convert(w http.ResponseWriter, r *http.Request) {
	var req fileURLRequest
	err := decodeJSON(w, r, &req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	rec, err := h.convertService.Convert(r.Context(), ctxkeys.Caller(r.Context()), req.FileURL)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, convertResponse{
		Message: "Conversion complete",
		PesURL:  rec.PesURL,
		DstURL:  rec.DstURL,
	})
}
