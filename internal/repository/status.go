package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/stitchdesk/stitchdesk/internal/kv"
	"github.com/stitchdesk/stitchdesk/internal/model"
)

// Key prefixes; every per-file key is the prefix followed by the file URL.
const (
	keyStatus     = "status:"
	keyProgress   = "progress:"
	keyVisibility = "visibility:"
	keyOwner      = "owner:"
	keyEmail      = "email:"
	keyVersions   = "versions:"
	keyDownloads  = "downloads:"
	keyNotice     = "notice:"
	keyAccess     = "file-access:"
	keyAudit      = "audit:" // followed by a username, not a URL
)

// DownloadLogLimit is how many recent download entries DownloadStats returns.
const DownloadLogLimit = 10

// AccessLogLimit caps both the per-file access log and the per-user audit log.
const AccessLogLimit = 100

var ErrCorruptRecord = errors.New("corrupt record in status store")

type StatusRepository interface {
	SetStatus(ctx context.Context, url string, rec model.StatusRecord) error
	GetStatus(ctx context.Context, url string) (model.StatusRecord, error)
	SetProgress(ctx context.Context, url string, percent int) error
	GetProgress(ctx context.Context, url string) (int, error)

	SetVisibility(ctx context.Context, url string, v model.Visibility) error
	GetVisibility(ctx context.Context, url string) (model.Visibility, error)
	SetOwner(ctx context.Context, url, owner string) error
	GetOwner(ctx context.Context, url string) (string, error)
	SetOwnerEmail(ctx context.Context, url, email string) error
	GetOwnerEmail(ctx context.Context, url string) (string, error)

	AppendVersion(ctx context.Context, url string, entry model.VersionEntry) error
	Versions(ctx context.Context, url string) ([]model.VersionEntry, error)
	TrimVersions(ctx context.Context, url string, keep int64) error

	AppendDownload(ctx context.Context, url string, entry model.DownloadEntry) error
	DownloadStats(ctx context.Context, url string) (model.DownloadStats, error)

	// AppendAccess records entry in the file's access log and in the audit
	// log of entry.Username.
	AppendAccess(ctx context.Context, entry model.AccessEntry) error
	AccessLog(ctx context.Context, url string) ([]model.AccessEntry, error)
	AuditLog(ctx context.Context, username string) ([]model.AccessEntry, error)

	// ClaimNotice returns true for the first claim on url within ttl.
	ClaimNotice(ctx context.Context, url string, ttl time.Duration) (bool, error)

	// Purge removes every key stored for url.
	Purge(ctx context.Context, url string) error
}

type statusRepository struct {
	store kv.Store
}

func NewStatusRepository(store kv.Store) *statusRepository {
	return &statusRepository{store: store}
}

func (r *statusRepository) SetStatus(ctx context.Context, url string, rec model.StatusRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	return r.store.Set(ctx, keyStatus+url, string(data))
}

// GetStatus returns the Pending default when nothing has been written yet.
func (r *statusRepository) GetStatus(ctx context.Context, url string) (model.StatusRecord, error) {
	raw, err := r.store.Get(ctx, keyStatus+url)
	if errors.Is(err, kv.ErrNil) {
		return model.Pending(), nil
	}
	if err != nil {
		return model.StatusRecord{}, err
	}

	var rec model.StatusRecord
	err = json.Unmarshal([]byte(raw), &rec)
	if err != nil {
		// legacy writers stored the bare message
		slog.Warn("status is not a JSON record", "file_url", url, "error", err)
		return model.StatusRecord{Status: raw, Stage: model.StageUnknown}, nil
	}
	return rec, nil
}

func (r *statusRepository) SetProgress(ctx context.Context, url string, percent int) error {
	return r.store.Set(ctx, keyProgress+url, strconv.Itoa(percent))
}

func (r *statusRepository) GetProgress(ctx context.Context, url string) (int, error) {
	raw, err := r.store.Get(ctx, keyProgress+url)
	if errors.Is(err, kv.ErrNil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: progress %s: %w", ErrCorruptRecord, url, err)
	}
	return n, nil
}

func (r *statusRepository) SetVisibility(ctx context.Context, url string, v model.Visibility) error {
	return r.store.Set(ctx, keyVisibility+url, string(v))
}

// GetVisibility defaults to private for unknown or unrecognised values.
func (r *statusRepository) GetVisibility(ctx context.Context, url string) (model.Visibility, error) {
	raw, err := r.store.Get(ctx, keyVisibility+url)
	if errors.Is(err, kv.ErrNil) {
		return model.VisibilityPrivate, nil
	}
	if err != nil {
		return "", err
	}
	v := model.Visibility(raw)
	if !v.Valid() {
		return model.VisibilityPrivate, nil
	}
	return v, nil
}

func (r *statusRepository) SetOwner(ctx context.Context, url, owner string) error {
	return r.store.Set(ctx, keyOwner+url, owner)
}

// GetOwner returns "" when the file has no recorded owner.
func (r *statusRepository) GetOwner(ctx context.Context, url string) (string, error) {
	return r.getString(ctx, keyOwner+url)
}

func (r *statusRepository) SetOwnerEmail(ctx context.Context, url, email string) error {
	return r.store.Set(ctx, keyEmail+url, email)
}

func (r *statusRepository) GetOwnerEmail(ctx context.Context, url string) (string, error) {
	return r.getString(ctx, keyEmail+url)
}

func (r *statusRepository) AppendVersion(ctx context.Context, url string, entry model.VersionEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode version: %w", err)
	}
	_, err = r.store.LPush(ctx, keyVersions+url, string(data))
	return err
}

// Versions lists version entries most recent first.
func (r *statusRepository) Versions(ctx context.Context, url string) ([]model.VersionEntry, error) {
	raw, err := r.store.LRange(ctx, keyVersions+url, 0, -1)
	if err != nil {
		return nil, err
	}
	versions := make([]model.VersionEntry, 0, len(raw))
	for _, item := range raw {
		var v model.VersionEntry
		if err := json.Unmarshal([]byte(item), &v); err != nil {
			slog.Warn("skipping corrupt version entry", "file_url", url, "error", err)
			continue
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func (r *statusRepository) TrimVersions(ctx context.Context, url string, keep int64) error {
	if keep <= 0 {
		return nil
	}
	return r.store.LTrim(ctx, keyVersions+url, 0, keep-1)
}

func (r *statusRepository) AppendDownload(ctx context.Context, url string, entry model.DownloadEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode download: %w", err)
	}
	_, err = r.store.LPush(ctx, keyDownloads+url, string(data))
	return err
}

func (r *statusRepository) DownloadStats(ctx context.Context, url string) (model.DownloadStats, error) {
	count, err := r.store.LLen(ctx, keyDownloads+url)
	if err != nil {
		return model.DownloadStats{}, err
	}
	raw, err := r.store.LRange(ctx, keyDownloads+url, 0, DownloadLogLimit-1)
	if err != nil {
		return model.DownloadStats{}, err
	}

	stats := model.DownloadStats{Count: count, Logs: make([]model.DownloadEntry, 0, len(raw))}
	for _, item := range raw {
		var d model.DownloadEntry
		if err := json.Unmarshal([]byte(item), &d); err != nil {
			slog.Warn("skipping corrupt download entry", "file_url", url, "error", err)
			continue
		}
		stats.Logs = append(stats.Logs, d)
	}
	return stats, nil
}

func (r *statusRepository) AppendAccess(ctx context.Context, entry model.AccessEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode access: %w", err)
	}
	for _, key := range []string{keyAccess + entry.FileURL, keyAudit + entry.Username} {
		_, err = r.store.LPush(ctx, key, string(data))
		if err != nil {
			return err
		}
		err = r.store.LTrim(ctx, key, 0, AccessLogLimit-1)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *statusRepository) AccessLog(ctx context.Context, url string) ([]model.AccessEntry, error) {
	return r.accessEntries(ctx, keyAccess+url)
}

func (r *statusRepository) AuditLog(ctx context.Context, username string) ([]model.AccessEntry, error) {
	return r.accessEntries(ctx, keyAudit+username)
}

func (r *statusRepository) accessEntries(ctx context.Context, key string) ([]model.AccessEntry, error) {
	raw, err := r.store.LRange(ctx, key, 0, -1)
	if err != nil {
		return nil, err
	}
	entries := make([]model.AccessEntry, 0, len(raw))
	for _, item := range raw {
		var e model.AccessEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			slog.Warn("skipping corrupt access entry", "key", key, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Purge leaves the audit logs alone; they belong to the users, not the file.
func (r *statusRepository) Purge(ctx context.Context, url string) error {
	return r.store.Del(ctx,
		keyStatus+url,
		keyProgress+url,
		keyVisibility+url,
		keyOwner+url,
		keyEmail+url,
		keyVersions+url,
		keyDownloads+url,
		keyNotice+url,
		keyAccess+url,
	)
}

func (r *statusRepository) ClaimNotice(ctx context.Context, url string, ttl time.Duration) (bool, error) {
	n, err := r.store.Incr(ctx, keyNotice+url)
	if err != nil {
		return false, err
	}
	if n == 1 {
		_, err = r.store.Expire(ctx, keyNotice+url, ttl)
		if err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

func (r *statusRepository) getString(ctx context.Context, key string) (string, error) {
	v, err := r.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNil) {
		return "", nil
	}
	return v, err
}
