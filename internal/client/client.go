// Package client is a typed HTTP client for the stitchdesk API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/poller"
)

const defaultChunkSize = 256 << 10

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Details    string `json:"details"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

type Client struct {
	baseURL   string
	token     string
	http      *http.Client
	chunkSize int
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithToken authenticates every request with a bearer session token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		http:      &http.Client{},
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UploadFile is one file of an upload batch.
type UploadFile struct {
	Name string
	Body io.Reader
	Size int64 // -1 when unknown; only used for progress
}

// UploadProgress is called after every chunk with the bytes sent so far.
type UploadProgress func(name string, sent, size int64)

// Upload streams files as one multipart request without buffering them.
func (c *Client) Upload(ctx context.Context, files []UploadFile, progress UploadProgress) ([]model.UploadedFile, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(c.writeParts(mw, files, progress))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/upload", pr)
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		URLs []model.UploadedFile `json:"urls"`
	}
	err = c.do(req, &out)
	_ = pr.Close()
	if err != nil {
		return nil, err
	}
	return out.URLs, nil
}

func (c *Client) writeParts(mw *multipart.Writer, files []UploadFile, progress UploadProgress) error {
	buf := make([]byte, c.chunkSize)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return err
		}
		var sent int64
		for {
			n, rerr := f.Body.Read(buf)
			if n > 0 {
				if _, werr := part.Write(buf[:n]); werr != nil {
					return werr
				}
				sent += int64(n)
				if progress != nil {
					progress(f.Name, sent, f.Size)
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return fmt.Errorf("read %s: %w", f.Name, rerr)
			}
		}
	}
	return mw.Close()
}

// ConvertResult is the answer of a finished conversion.
type ConvertResult struct {
	Message string  `json:"message"`
	PesURL  *string `json:"pesUrl"`
	DstURL  *string `json:"dstUrl"`
}

func (c *Client) Convert(ctx context.Context, fileURL string) (ConvertResult, error) {
	var out ConvertResult
	err := c.sendJSON(ctx, http.MethodPost, "/api/convert-file", map[string]string{"fileUrl": fileURL}, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, fileURL string) (model.StatusRecord, error) {
	var out model.StatusRecord
	err := c.getJSON(ctx, "/api/status", fileURL, &out)
	return out, err
}

type Progress struct {
	Progress  int         `json:"progress"`
	Status    string      `json:"status"`
	Stage     model.Stage `json:"stage"`
	Timestamp *time.Time  `json:"timestamp"`
}

func (c *Client) Progress(ctx context.Context, fileURL string) (Progress, error) {
	var out Progress
	err := c.getJSON(ctx, "/api/progress", fileURL, &out)
	return out, err
}

// Snapshot reads status and progress in one request for the status poller.
func (c *Client) Snapshot(ctx context.Context, fileURL string) (poller.Snapshot, error) {
	p, err := c.Progress(ctx, fileURL)
	if err != nil {
		return poller.Snapshot{}, err
	}
	return poller.Snapshot{Status: p.Status, Stage: p.Stage, Progress: p.Progress}, nil
}

type StatusUpdate struct {
	FileURL  string  `json:"fileUrl"`
	Status   string  `json:"status"`
	Stage    string  `json:"stage"`
	Progress *int    `json:"progress,omitempty"`
	PesURL   *string `json:"pesUrl,omitempty"`
	DstURL   *string `json:"dstUrl,omitempty"`
}

// UpdateStatus needs an admin token or the internal token in header.
func (c *Client) UpdateStatus(ctx context.Context, u StatusUpdate, internalToken string) error {
	body, err := json.Marshal(u)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/update-status", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if internalToken != "" {
		req.Header.Set("X-Internal-Token", internalToken)
	}
	return c.do(req, nil)
}

func (c *Client) SetVisibility(ctx context.Context, fileURL string, v model.Visibility) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/set-visibility", map[string]string{"fileUrl": fileURL, "visibility": string(v)}, nil)
}

// ServeURL returns where serve-file redirects to, without following it.
func (c *Client) ServeURL(ctx context.Context, fileURL string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/serve-file?fileUrl="+url.QueryEscape(fileURL), nil)
	if err != nil {
		return "", err
	}
	hc := *c.http
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return "", decodeError(resp)
	}
	return resp.Header.Get("Location"), nil
}

func (c *Client) LogDownload(ctx context.Context, fileURL, format string) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/log-download", map[string]string{"fileUrl": fileURL, "format": format}, nil)
}

func (c *Client) DownloadStats(ctx context.Context, fileURL string) (model.DownloadStats, error) {
	var out model.DownloadStats
	err := c.getJSON(ctx, "/api/download-stats", fileURL, &out)
	return out, err
}

func (c *Client) LogAccess(ctx context.Context, fileURL string) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/log-file-access", map[string]string{"fileUrl": fileURL}, nil)
}

// FileAccess returns the access log of a file the caller owns, newest first.
func (c *Client) FileAccess(ctx context.Context, fileURL string) ([]model.AccessEntry, error) {
	var out struct {
		Logs []model.AccessEntry `json:"logs"`
	}
	err := c.getJSON(ctx, "/api/file-access", fileURL, &out)
	return out.Logs, err
}

func (c *Client) AuditLogs(ctx context.Context) ([]model.AccessEntry, error) {
	var out struct {
		Logs []model.AccessEntry `json:"logs"`
	}
	err := c.getJSON(ctx, "/api/audit-logs", "", &out)
	return out.Logs, err
}

func (c *Client) Versions(ctx context.Context, fileURL string) ([]model.VersionEntry, error) {
	var out struct {
		Versions []model.VersionEntry `json:"versions"`
	}
	err := c.getJSON(ctx, "/api/file-versions", fileURL, &out)
	return out.Versions, err
}

func (c *Client) Rollback(ctx context.Context, fileURL string, version int64) (string, error) {
	var out struct {
		RestoredFile string `json:"restoredFile"`
	}
	err := c.sendJSON(ctx, http.MethodPost, "/api/rollback-file", map[string]any{"fileUrl": fileURL, "version": version}, &out)
	return out.RestoredFile, err
}

func (c *Client) SaveVersion(ctx context.Context, fileURL string) (int64, error) {
	var out struct {
		Version int64 `json:"version"`
	}
	err := c.sendJSON(ctx, http.MethodPost, "/api/save-version", map[string]string{"fileUrl": fileURL}, &out)
	return out.Version, err
}

func (c *Client) ListFiles(ctx context.Context) ([]string, error) {
	var out struct {
		Files []string `json:"files"`
	}
	err := c.getJSON(ctx, "/api/list-files", "", &out)
	return out.Files, err
}

func (c *Client) DeleteFile(ctx context.Context, fileURL string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/api/delete-file", map[string]string{"fileUrl": fileURL}, nil)
}

type CleanupReport struct {
	Message    string `json:"message"`
	Deleted    int    `json:"deleted"`
	Notified   int    `json:"notified"`
	Reconciled int    `json:"reconciled"`
}

func (c *Client) CleanUp(ctx context.Context) (CleanupReport, error) {
	var out CleanupReport
	err := c.sendJSON(ctx, http.MethodPost, "/api/clean-up", nil, &out)
	return out, err
}

func (c *Client) FileInfo(ctx context.Context, fileURL string) (model.FileRecord, error) {
	var out model.FileRecord
	err := c.getJSON(ctx, "/api/file-info", fileURL, &out)
	return out, err
}

func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/healthz", "", nil)
}

func (c *Client) getJSON(ctx context.Context, path, fileURL string, out any) error {
	if fileURL != "" {
		path += "?fileUrl=" + url.QueryEscape(fileURL)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}
