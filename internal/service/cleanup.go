package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/repository"
	"github.com/stitchdesk/stitchdesk/internal/storage"
)

var sweptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stitchdesk_retention_sweep_files_total",
	Help: "Files handled by the retention sweep by action.",
}, []string{"action"})

// Notifier delivers expiry warnings to file owners.
type Notifier interface {
	SendExpiryNotice(ctx context.Context, email, fileURL string, expiresAt time.Time) error
}

type CleanupConfig struct {
	Retention        time.Duration
	NoticeBefore     time.Duration
	StaleUploadAfter time.Duration
	// StaleConvertAfter is how long a record may stay submitted before the
	// attempt is written off; it should exceed the conversion timeout.
	StaleConvertAfter time.Duration
}

type CleanupReport struct {
	Deleted    int `json:"deleted"`
	Notified   int `json:"notified"`
	Reconciled int `json:"reconciled"`
}

// CleanupService is the retention sweep: it warns owners of blobs about to
// expire, deletes expired blobs together with their status-store keys, and
// settles uploads and conversions left unfinished by a crashed or stopped
// writer.
type CleanupService struct {
	repo     repository.StatusRepository
	storage  storage.Storage
	access   *AccessService
	notifier Notifier
	locks    *KeyLock
	cfg      CleanupConfig
	now      func() time.Time
}

func NewCleanupService(repo repository.StatusRepository, storage storage.Storage, access *AccessService, notifier Notifier, locks *KeyLock, cfg CleanupConfig) *CleanupService {
	return &CleanupService{
		repo:     repo,
		storage:  storage,
		access:   access,
		notifier: notifier,
		locks:    locks,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Sweep makes one pass over the blob store. Per-file failures are logged and
// joined into the returned error; the pass continues past them.
func (s *CleanupService) Sweep(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport

	objects, err := s.storage.List(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list blobs: %w", err)
	}

	now := s.now()
	var errs []error
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		expiresAt := obj.LastModified.Add(s.cfg.Retention)
		switch {
		case !now.Before(expiresAt):
			err = s.expire(ctx, obj)
			if err == nil {
				report.Deleted++
				sweptTotal.WithLabelValues("deleted").Inc()
			}
		default:
			var reconciled, notified bool
			reconciled, err = s.reconcile(ctx, obj, now)
			if err == nil && !reconciled && expiresAt.Sub(now) <= s.cfg.NoticeBefore {
				notified, err = s.notify(ctx, obj, expiresAt)
			}
			if reconciled {
				report.Reconciled++
				sweptTotal.WithLabelValues("reconciled").Inc()
			}
			if notified {
				report.Notified++
				sweptTotal.WithLabelValues("notified").Inc()
			}
		}
		if err != nil {
			slog.Error("retention sweep failed for file", "file_url", obj.URL, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", obj.URL, err))
		}
	}

	slog.Info("retention sweep finished",
		"files", len(objects),
		"deleted", report.Deleted,
		"notified", report.Notified,
		"reconciled", report.Reconciled,
		"errors", len(errs),
	)
	return report, errors.Join(errs...)
}

func (s *CleanupService) expire(ctx context.Context, obj storage.ObjectInfo) error {
	unlock := s.locks.Lock(obj.URL)
	defer unlock()

	err := s.storage.Delete(ctx, obj.Path)
	if err != nil {
		return err
	}
	err = s.repo.Purge(ctx, obj.URL)
	if err != nil {
		return err
	}
	s.access.Invalidate(obj.URL)
	slog.Info("expired file deleted", "file_url", obj.URL, "last_modified", obj.LastModified)
	return nil
}

// reconcile settles a file whose latest attempt never reached a terminal
// stage. An upload still uploading long after the blob was written lost its
// writer; the blob is removed. A conversion still submitted past the
// conversion timeout lost its trigger; the source blob is kept.
func (s *CleanupService) reconcile(ctx context.Context, obj storage.ObjectInfo, now time.Time) (bool, error) {
	uploadStale := s.cfg.StaleUploadAfter > 0 && now.Sub(obj.LastModified) >= s.cfg.StaleUploadAfter
	if !uploadStale && s.cfg.StaleConvertAfter <= 0 {
		return false, nil
	}

	unlock := s.locks.Lock(obj.URL)
	defer unlock()

	rec, err := s.repo.GetStatus(ctx, obj.URL)
	if err != nil {
		return false, err
	}

	switch {
	case rec.Stage == model.StageUploading && uploadStale:
		err = s.storage.Delete(ctx, obj.Path)
		if err != nil {
			return false, err
		}
		err = s.repo.SetStatus(ctx, obj.URL, model.Failed(model.StatusUploadAbandoned))
		if err != nil {
			return false, err
		}
		slog.Warn("abandoned upload reconciled", "file_url", obj.URL, "last_modified", obj.LastModified)
		return true, nil

	case rec.Stage == model.StageSubmitted && s.cfg.StaleConvertAfter > 0:
		submittedAt := rec.Timestamp
		if submittedAt.IsZero() {
			submittedAt = obj.LastModified
		}
		if now.Sub(submittedAt) < s.cfg.StaleConvertAfter {
			return false, nil
		}
		err = s.repo.SetStatus(ctx, obj.URL, model.Failed(model.StatusTriggerError))
		if err != nil {
			return false, err
		}
		slog.Warn("stalled conversion reconciled", "file_url", obj.URL, "submitted_at", submittedAt)
		return true, nil
	}
	return false, nil
}

func (s *CleanupService) notify(ctx context.Context, obj storage.ObjectInfo, expiresAt time.Time) (bool, error) {
	if s.notifier == nil {
		return false, nil
	}
	email, err := s.repo.GetOwnerEmail(ctx, obj.URL)
	if err != nil {
		return false, err
	}
	if email == "" {
		return false, nil
	}

	first, err := s.repo.ClaimNotice(ctx, obj.URL, s.cfg.NoticeBefore+time.Hour)
	if err != nil || !first {
		return false, err
	}

	err = s.notifier.SendExpiryNotice(ctx, email, obj.URL, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to send expiry notice: %w", err)
	}
	return true, nil
}

// Run sweeps every interval until ctx is done.
func (s *CleanupService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("retention sweep scheduled", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := s.Sweep(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("retention sweep finished with errors", "error", err)
			}
		}
	}
}
