package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	cfg "github.com/stitchdesk/stitchdesk/internal/config"
	"github.com/stitchdesk/stitchdesk/internal/model"
)

// Storage is the blob store adapter. Paths are relative keys such as
// "alice/images/<uuid>.png"; URLs are what clients see.
type Storage interface {
	// Put streams body to path. size may be -1 when unknown.
	Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) (Object, error)

	// URL returns the URL a blob at path has (or will have). It does not
	// touch the backend, so callers can key state by URL before writing.
	URL(path string) string

	// PathFromURL is the inverse of URL. ok is false for foreign URLs.
	PathFromURL(url string) (path string, ok bool)

	List(ctx context.Context) ([]ObjectInfo, error)

	// Delete removes the blob at path. Missing blobs are not an error.
	Delete(ctx context.Context, path string) error

	// AccessURL returns a URL a browser can fetch the blob from, presigned
	// when the backend supports it and the blob is private.
	AccessURL(ctx context.Context, path string, visibility model.Visibility) (string, error)
}

type Object struct {
	Path string
	URL  string
	Size int64
}

type ObjectInfo struct {
	Path         string
	URL          string
	Size         int64
	LastModified time.Time
}

// New builds the storage driver selected by STORAGE_DRIVER.
func New(c *cfg.Config) (Storage, error) {
	switch c.StorageDriver {
	case "s3":
		return NewS3(c)
	case "fs", "":
		return NewFSStorage(c.StoragePath, c.AppURL+"/blobs")
	default:
		return nil, fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
}
