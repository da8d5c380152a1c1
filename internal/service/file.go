package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/repository"
	"github.com/stitchdesk/stitchdesk/internal/storage"
)

var ErrInvalidStatus = errors.New("invalid status update")

// ProgressView is what the progress endpoint reports.
type ProgressView struct {
	Progress int
	Status   model.StatusRecord
}

// StatusUpdate is an externally reported status, typically from the
// conversion service.
type StatusUpdate struct {
	Status   string
	Stage    string
	PesURL   *string
	DstURL   *string
	Progress *int
}

// FileService owns the per-file operations outside the upload and
// conversion pipelines.
type FileService struct {
	repo         repository.StatusRepository
	storage      storage.Storage
	access       *AccessService
	versionLimit int64
	now          func() time.Time
}

func NewFileService(repo repository.StatusRepository, storage storage.Storage, access *AccessService, versionLimit int64) *FileService {
	return &FileService{
		repo:         repo,
		storage:      storage,
		access:       access,
		versionLimit: versionLimit,
		now:          time.Now,
	}
}

func (s *FileService) Status(ctx context.Context, url string) (model.StatusRecord, error) {
	if url == "" {
		return model.StatusRecord{}, ErrMissingFileURL
	}
	return s.repo.GetStatus(ctx, url)
}

func (s *FileService) Progress(ctx context.Context, url string) (ProgressView, error) {
	if url == "" {
		return ProgressView{}, ErrMissingFileURL
	}
	progress, err := s.repo.GetProgress(ctx, url)
	if err != nil {
		return ProgressView{}, err
	}
	rec, err := s.repo.GetStatus(ctx, url)
	if err != nil {
		return ProgressView{}, err
	}
	return ProgressView{Progress: progress, Status: rec}, nil
}

// UpdateStatus writes an externally reported status. A done stage must carry
// at least one output, the same rule the conversion pipeline follows.
func (s *FileService) UpdateStatus(ctx context.Context, url string, u StatusUpdate) (model.StatusRecord, error) {
	if url == "" || u.Status == "" || u.Stage == "" {
		return model.StatusRecord{}, fmt.Errorf("%w: missing fileUrl, status, or stage", ErrInvalidStatus)
	}
	stage, err := model.ParseStage(u.Stage)
	if err != nil {
		return model.StatusRecord{}, fmt.Errorf("%w: %w", ErrInvalidStatus, err)
	}

	var rec model.StatusRecord
	switch stage {
	case model.StageDone:
		rec = model.Converted(u.PesURL, u.DstURL)
		if rec.Stage != model.StageDone {
			return model.StatusRecord{}, fmt.Errorf("%w: done requires pesUrl or dstUrl", ErrInvalidStatus)
		}
		rec.Status = u.Status
	default:
		rec = model.Custom(u.Status, stage)
	}

	if u.Progress != nil {
		p := min(max(*u.Progress, 0), 100)
		err = s.repo.SetProgress(ctx, url, p)
		if err != nil {
			return model.StatusRecord{}, err
		}
	}

	err = s.repo.SetStatus(ctx, url, rec)
	if err != nil {
		return model.StatusRecord{}, err
	}
	return rec, nil
}

func (s *FileService) SetVisibility(ctx context.Context, caller *model.Caller, url string, v model.Visibility) error {
	if url == "" {
		return ErrMissingFileURL
	}
	if !v.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidVisibility, v)
	}
	err := s.access.RequireOwner(ctx, caller, url)
	if err != nil {
		return err
	}
	err = s.repo.SetVisibility(ctx, url, v)
	if err != nil {
		return err
	}
	s.access.Invalidate(url)
	slog.Info("file visibility updated", "file_url", url, "visibility", v, "by", caller.Username)
	return nil
}

// ServeURL resolves a fetchable URL and records the read for signed-in
// callers. A failed access-log write does not block serving.
func (s *FileService) ServeURL(ctx context.Context, caller *model.Caller, url string) (string, error) {
	if url == "" {
		return "", ErrMissingFileURL
	}
	target, err := s.access.ResolveURL(ctx, caller, url)
	if err != nil {
		return "", err
	}
	if !caller.IsGuest() {
		err = s.recordAccess(ctx, caller, url, model.AccessServed)
		if err != nil {
			slog.Warn("failed to record file access", "file_url", url, "error", err)
		}
	}
	return target, nil
}

// LogAccess records that caller viewed url.
func (s *FileService) LogAccess(ctx context.Context, caller *model.Caller, url string) error {
	if url == "" {
		return ErrMissingFileURL
	}
	if caller.IsGuest() {
		return ErrAuthRequired
	}
	return s.recordAccess(ctx, caller, url, model.AccessViewed)
}

func (s *FileService) recordAccess(ctx context.Context, caller *model.Caller, url, action string) error {
	return s.repo.AppendAccess(ctx, model.AccessEntry{
		Username:  caller.Username,
		Action:    action,
		FileURL:   url,
		Timestamp: s.now().UTC(),
	})
}

// AccessLog returns who read url, newest first, for its owner or an admin.
func (s *FileService) AccessLog(ctx context.Context, caller *model.Caller, url string) ([]model.AccessEntry, error) {
	if url == "" {
		return nil, ErrMissingFileURL
	}
	err := s.access.RequireOwner(ctx, caller, url)
	if err != nil {
		return nil, err
	}
	return s.repo.AccessLog(ctx, url)
}

// AuditLog returns the caller's own access history, newest first.
func (s *FileService) AuditLog(ctx context.Context, caller *model.Caller) ([]model.AccessEntry, error) {
	if caller.IsGuest() {
		return nil, ErrAuthRequired
	}
	return s.repo.AuditLog(ctx, caller.Username)
}

// Delete removes the blob and every status-store key of url.
func (s *FileService) Delete(ctx context.Context, caller *model.Caller, url string) error {
	if url == "" {
		return ErrMissingFileURL
	}
	err := s.access.RequireOwner(ctx, caller, url)
	if err != nil {
		return err
	}
	path, ok := s.storage.PathFromURL(url)
	if !ok {
		return ErrFileNotFound
	}
	err = s.storage.Delete(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	err = s.repo.Purge(ctx, url)
	if err != nil {
		return err
	}
	s.access.Invalidate(url)
	slog.Info("file deleted", "file_url", url, "by", caller.Username)
	return nil
}

func (s *FileService) List(ctx context.Context) ([]string, error) {
	objects, err := s.storage.List(ctx)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(objects))
	for _, o := range objects {
		urls = append(urls, o.URL)
	}
	return urls, nil
}

func (s *FileService) Versions(ctx context.Context, url string) ([]model.VersionEntry, error) {
	if url == "" {
		return nil, ErrMissingFileURL
	}
	return s.repo.Versions(ctx, url)
}

// Rollback returns the file URL recorded for version; the status record is
// left untouched.
func (s *FileService) Rollback(ctx context.Context, url string, version int64) (string, error) {
	if url == "" || version == 0 {
		return "", fmt.Errorf("%w or version", ErrMissingFileURL)
	}
	versions, err := s.repo.Versions(ctx, url)
	if err != nil {
		return "", err
	}
	for _, v := range versions {
		if v.Version == version {
			return v.FileURL, nil
		}
	}
	return "", ErrVersionNotFound
}

func (s *FileService) SaveVersion(ctx context.Context, caller *model.Caller, url string) (int64, error) {
	if url == "" {
		return 0, ErrMissingFileURL
	}
	if caller.IsGuest() {
		return 0, ErrAuthRequired
	}
	at := s.now()
	err := appendVersion(ctx, s.repo, url, url, at, s.versionLimit)
	if err != nil {
		return 0, err
	}
	return at.UnixMilli(), nil
}

func (s *FileService) LogDownload(ctx context.Context, url, format string) error {
	if url == "" || format == "" {
		return fmt.Errorf("%w or format", ErrMissingFileURL)
	}
	return s.repo.AppendDownload(ctx, url, model.DownloadEntry{Type: format, Timestamp: s.now().UTC()})
}

func (s *FileService) DownloadStats(ctx context.Context, url string) (model.DownloadStats, error) {
	if url == "" {
		return model.DownloadStats{}, ErrMissingFileURL
	}
	return s.repo.DownloadStats(ctx, url)
}

// Record gathers every stored field of url for its owner or an admin and
// logs the read after the fields are gathered.
func (s *FileService) Record(ctx context.Context, caller *model.Caller, url string) (model.FileRecord, error) {
	if url == "" {
		return model.FileRecord{}, ErrMissingFileURL
	}
	err := s.access.RequireOwner(ctx, caller, url)
	if err != nil {
		return model.FileRecord{}, err
	}

	rec := model.FileRecord{URL: url}
	if rec.Owner, err = s.repo.GetOwner(ctx, url); err != nil {
		return model.FileRecord{}, err
	}
	if rec.Visibility, err = s.repo.GetVisibility(ctx, url); err != nil {
		return model.FileRecord{}, err
	}
	if rec.Status, err = s.repo.GetStatus(ctx, url); err != nil {
		return model.FileRecord{}, err
	}
	if rec.Progress, err = s.repo.GetProgress(ctx, url); err != nil {
		return model.FileRecord{}, err
	}
	if rec.Versions, err = s.repo.Versions(ctx, url); err != nil {
		return model.FileRecord{}, err
	}
	if rec.Downloads, err = s.repo.DownloadStats(ctx, url); err != nil {
		return model.FileRecord{}, err
	}
	if rec.Access, err = s.repo.AccessLog(ctx, url); err != nil {
		return model.FileRecord{}, err
	}
	err = s.recordAccess(ctx, caller, url, model.AccessViewed)
	if err != nil {
		slog.Warn("failed to record file access", "file_url", url, "error", err)
	}
	return rec, nil
}
