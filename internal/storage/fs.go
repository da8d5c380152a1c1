package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/stitchdesk/stitchdesk/internal/model"
)

// FSStorage keeps blobs in a local directory. The server exposes them under
// baseURL through Handler; there is no per-blob access control at that layer.
type FSStorage struct {
	root    string
	baseURL string
}

func NewFSStorage(root, baseURL string) (*FSStorage, error) {
	err := os.MkdirAll(root, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	slog.Info("initializing filesystem storage", "root", root, "base_url", baseURL)
	return &FSStorage{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (s *FSStorage) Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) (Object, error) {
	target, err := s.resolve(path)
	if err != nil {
		return Object{}, err
	}
	err = os.MkdirAll(filepath.Dir(target), 0755)
	if err != nil {
		return Object{}, fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("failed to create temp blob: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: body})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Object{}, fmt.Errorf("failed to write blob: %w", err)
	}

	err = os.Rename(tmp.Name(), target)
	if err != nil {
		return Object{}, fmt.Errorf("failed to publish blob: %w", err)
	}

	return Object{Path: path, URL: s.URL(path), Size: n}, nil
}

func (s *FSStorage) URL(path string) string {
	return s.baseURL + "/" + path
}

func (s *FSStorage) PathFromURL(url string) (string, bool) {
	path, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || path == "" {
		return "", false
	}
	return path, true
}

func (s *FSStorage) List(ctx context.Context) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		out = append(out, ObjectInfo{
			Path:         key,
			URL:          s.URL(key),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	return out, nil
}

func (s *FSStorage) Delete(ctx context.Context, path string) error {
	target, err := s.resolve(path)
	if err != nil {
		return err
	}
	err = os.Remove(target)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *FSStorage) AccessURL(ctx context.Context, path string, visibility model.Visibility) (string, error) {
	return s.URL(path), nil
}

// Handler serves blobs; mount it with the base URL's path prefix stripped.
func (s *FSStorage) Handler() http.Handler {
	return http.FileServer(http.Dir(s.root))
}

func (s *FSStorage) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if path == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid blob path %q", path)
	}
	return filepath.Join(s.root, clean), nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
