package service

import (
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/repository"
	"github.com/stitchdesk/stitchdesk/internal/storage"
	"github.com/stitchdesk/stitchdesk/internal/validation"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stitchdesk_uploads_total",
		Help: "Uploaded files by outcome.",
	}, []string{"outcome"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stitchdesk_upload_bytes_total",
		Help: "Bytes written to the blob store by uploads.",
	})
)

type UploadConfig struct {
	MaxBytes     int64
	Concurrency  int
	ChunkSize    int
	Retention    time.Duration
	VersionLimit int64
}

type UploadService struct {
	repo    repository.StatusRepository
	storage storage.Storage
	locks   *KeyLock
	cfg     UploadConfig
	now     func() time.Time
}

func NewUploadService(repo repository.StatusRepository, storage storage.Storage, locks *KeyLock, cfg UploadConfig) *UploadService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &UploadService{
		repo:    repo,
		storage: storage,
		locks:   locks,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Validate checks every file of a batch. The first invalid file fails the
// whole batch, before anything is written.
func (s *UploadService) Validate(headers []*multipart.FileHeader) ([]validation.ValidatedFile, error) {
	if len(headers) == 0 {
		return nil, ErrNoFiles
	}
	files := make([]validation.ValidatedFile, 0, len(headers))
	for _, h := range headers {
		f, err := validation.ValidateUpload(h, s.cfg.MaxBytes)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// Upload validates and stores a batch for caller. Results follow input
// order. Files are written concurrently; a failure on one file marks only
// that file as errored, and files already stored stay stored.
func (s *UploadService) Upload(ctx context.Context, caller *model.Caller, headers []*multipart.FileHeader) ([]model.UploadedFile, error) {
	if caller == nil {
		caller = model.Guest()
	}
	if err := validation.ValidateUsername(caller.Username); err != nil {
		uploadsTotal.WithLabelValues("rejected").Add(float64(len(headers)))
		return nil, err
	}

	files, err := s.Validate(headers)
	if err != nil {
		uploadsTotal.WithLabelValues("rejected").Add(float64(len(headers)))
		return nil, err
	}

	results := make([]model.UploadedFile, len(files))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			res, err := s.uploadOne(ctx, caller, f)
			if err != nil {
				uploadsTotal.WithLabelValues("error").Inc()
				return err
			}
			uploadsTotal.WithLabelValues("ok").Inc()
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// BlobPath is where a new upload for owner lands.
func BlobPath(owner string, category model.Category, ext string) string {
	return path.Join(owner, string(category), uuid.New().String()+ext)
}

func (s *UploadService) uploadOne(ctx context.Context, caller *model.Caller, f validation.ValidatedFile) (model.UploadedFile, error) {
	blobPath := BlobPath(caller.Username, f.Category, f.Ext)
	url := s.storage.URL(blobPath)
	log := slog.With("file_url", url, "filename", f.Header.Filename, "owner", caller.Username)

	unlock := s.locks.Lock(url)
	defer unlock()

	// The uploading status doubles as the marker for blobs whose write never
	// finished; the retention sweep reconciles those.
	err := s.repo.SetStatus(ctx, url, model.Uploading())
	if err != nil {
		return model.UploadedFile{}, fmt.Errorf("%w: %s: %w", ErrUploadFailed, f.Header.Filename, err)
	}

	fail := func(step string, err error) (model.UploadedFile, error) {
		log.Error("upload failed", "step", step, "error", err)
		serr := s.repo.SetStatus(context.WithoutCancel(ctx), url, model.Failed(model.StatusUploadError))
		if serr != nil {
			log.Error("failed to record upload error", "error", serr)
		}
		return model.UploadedFile{}, fmt.Errorf("%w: %s: %w", ErrUploadFailed, f.Header.Filename, err)
	}

	src, err := f.Header.Open()
	if err != nil {
		return fail("open", err)
	}
	defer func() { _ = src.Close() }()

	body := storage.NewProgressReader(src, f.Header.Size, s.cfg.ChunkSize, func(percent int) {
		perr := s.repo.SetProgress(ctx, url, percent)
		if perr != nil {
			log.Debug("failed to record upload progress", "percent", percent, "error", perr)
		}
	})

	obj, err := s.storage.Put(ctx, blobPath, body, f.Header.Size, f.ContentType)
	if err != nil {
		return fail("blob", err)
	}
	uploadBytesTotal.Add(float64(obj.Size))

	err = s.registerBlob(ctx, url, caller, url)
	if err != nil {
		return fail("register", err)
	}

	err = s.repo.SetStatus(ctx, url, model.Uploaded())
	if err != nil {
		return fail("status", err)
	}

	log.Info("file uploaded", "size", obj.Size)
	return model.UploadedFile{URL: url, ExpiryDate: s.now().Add(s.cfg.Retention).UTC()}, nil
}

// registerBlob records ownership and a version entry for blobURL under
// versionKey, which is the blob itself for uploads and the source file for
// converted outputs.
func (s *UploadService) registerBlob(ctx context.Context, blobURL string, caller *model.Caller, versionKey string) error {
	err := s.repo.SetVisibility(ctx, blobURL, model.VisibilityPrivate)
	if err != nil {
		return err
	}
	err = s.repo.SetOwner(ctx, blobURL, caller.Username)
	if err != nil {
		return err
	}
	if caller.Email != "" {
		if verr := validation.ValidateEmail(caller.Email); verr != nil {
			slog.Warn("not recording owner email", "owner", caller.Username, "error", verr)
		} else if err = s.repo.SetOwnerEmail(ctx, blobURL, caller.Email); err != nil {
			return err
		}
	}
	return appendVersion(ctx, s.repo, versionKey, blobURL, s.now(), s.cfg.VersionLimit)
}

func appendVersion(ctx context.Context, repo repository.StatusRepository, key, fileURL string, at time.Time, limit int64) error {
	err := repo.AppendVersion(ctx, key, model.VersionEntry{Version: at.UnixMilli(), FileURL: fileURL})
	if err != nil {
		return err
	}
	return repo.TrimVersions(ctx, key, limit)
}
