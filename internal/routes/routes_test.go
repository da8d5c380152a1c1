package routes_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchdesk/stitchdesk/internal/app"
	"github.com/stitchdesk/stitchdesk/internal/config"
	"github.com/stitchdesk/stitchdesk/internal/converter"
	"github.com/stitchdesk/stitchdesk/internal/kv"
	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/routes"
	"github.com/stitchdesk/stitchdesk/internal/testsupport"
)

const internalToken = "internal-secret"

type server struct {
	t       *testing.T
	handler http.Handler
	app     *app.App
	tokens  map[string]string

	// convertReply answers the fake conversion service
	convertReply atomic.Value // func(w http.ResponseWriter, r *http.Request)
}

func testConfig() *config.Config {
	return &config.Config{
		AppName:            "Stitchdesk",
		AppEnv:             "development",
		AppURL:             "http://localhost:8090",
		Port:               "8090",
		JWTSecret:          "test-secret",
		JWTExpiry:          time.Hour,
		InternalToken:      internalToken,
		ConvertTimeout:     5 * time.Second,
		UploadMaxBytes:     1 << 20,
		UploadConcurrency:  2,
		UploadChunkSize:    16,
		RateLimitUploads:   100,
		RateLimitWindow:    time.Minute,
		BlobRetention:      30 * 24 * time.Hour,
		ExpiryNoticeBefore: 48 * time.Hour,
		StaleUploadAfter:   time.Hour,
		AccessCacheSize:    16,
		AccessCacheTTL:     time.Minute,
	}
}

func newServer(t *testing.T, cfg *config.Config, store kv.Store) *server {
	t.Helper()

	s := &server{t: t, tokens: map[string]string{}}
	s.convertReply.Store(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pes":"23504553","dst":null}`))
	})

	convSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.convertReply.Load().(func(http.ResponseWriter, *http.Request))(w, r)
	}))
	t.Cleanup(convSrv.Close)

	if store == nil {
		store = testsupport.NewSQLiteKV(t)
	}
	s.app = app.Wire(cfg, store, testsupport.NewFSStorage(t), converter.NewClient(convSrv.URL, convSrv.Client()))
	s.handler = routes.SetupRoutes(s.app)

	for _, c := range []model.Caller{
		{Username: "alice", Email: "alice@example.com", Role: model.RoleUser},
		{Username: "bob", Role: model.RoleUser},
		{Username: "root", Role: model.RoleAdmin},
	} {
		token, err := s.app.SessionService.IssueToken(c)
		require.NoError(t, err)
		s.tokens[c.Username] = token
	}
	return s
}

func (s *server) do(as string, req *http.Request) *httptest.ResponseRecorder {
	if token := s.tokens[as]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) get(as, path string, fileURL string) *httptest.ResponseRecorder {
	target := path
	if fileURL != "" {
		target += "?fileUrl=" + url.QueryEscape(fileURL)
	}
	return s.do(as, httptest.NewRequest(http.MethodGet, target, nil))
}

func (s *server) send(as, method, path string, body any) *httptest.ResponseRecorder {
	data, err := json.Marshal(body)
	require.NoError(s.t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return s.do(as, req)
}

func (s *server) upload(as string, files ...testsupport.File) *httptest.ResponseRecorder {
	body, contentType := testsupport.MultipartBody(s.t, "files", files...)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	return s.do(as, req)
}

func (s *server) uploadPNG(as string) string {
	rec := s.upload(as, testsupport.File{Name: "art.png", Content: testsupport.PNG})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		URLs []model.UploadedFile `json:"urls"`
	}
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(s.t, resp.URLs, 1)
	return resp.URLs[0].URL
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestUploadStatusAndServe(t *testing.T) {
	s := newServer(t, testConfig(), nil)
	fileURL := s.uploadPNG("alice")
	assert.True(t, strings.HasPrefix(fileURL, "http://localhost:8090/blobs/alice/images/"))

	status := decode(t, s.get("", "/api/status", fileURL))
	assert.Equal(t, model.StatusUploadingComplete, status["status"])
	assert.Equal(t, "done", status["stage"])

	progress := decode(t, s.get("", "/api/progress", fileURL))
	assert.EqualValues(t, 100, progress["progress"])

	assert.Equal(t, http.StatusForbidden, s.get("", "/api/serve-file", fileURL).Code)
	assert.Equal(t, http.StatusForbidden, s.get("bob", "/api/serve-file", fileURL).Code)

	rec := s.get("alice", "/api/serve-file", fileURL)
	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.Equal(t, fileURL, location)

	blobPath := strings.TrimPrefix(location, "http://localhost:8090")
	blob := s.get("", blobPath, "")
	require.Equal(t, http.StatusOK, blob.Code)
	assert.Equal(t, testsupport.PNG, blob.Body.Bytes())
}

func TestStatus_DefaultsToPending(t *testing.T) {
	s := newServer(t, testConfig(), nil)

	status := decode(t, s.get("", "/api/status", "http://localhost:8090/blobs/nobody/images/x.png"))
	assert.Equal(t, "Pending", status["status"])
	assert.Equal(t, "pending", status["stage"])
	assert.Nil(t, status["timestamp"])

	assert.Equal(t, http.StatusBadRequest, s.get("", "/api/status", "").Code)
}

func TestUpload_RejectsDisallowedType(t *testing.T) {
	s := newServer(t, testConfig(), nil)

	rec := s.upload("alice",
		testsupport.File{Name: "a.png", Content: testsupport.PNG},
		testsupport.File{Name: "anim.gif", Content: []byte("GIF89a")},
	)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"file type .gif not allowed"}`, rec.Body.String())

	rec = s.upload("alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitUploads = 1
	s := newServer(t, cfg, nil)

	s.uploadPNG("")
	rec := s.upload("", testsupport.File{Name: "a.png", Content: testsupport.PNG})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestConvert_SuccessAndServiceError(t *testing.T) {
	s := newServer(t, testConfig(), nil)
	fileURL := s.uploadPNG("alice")

	rec := s.send("alice", http.MethodPost, "/api/convert-file", map[string]string{"fileUrl": fileURL})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Conversion complete", body["message"])
	assert.Contains(t, body["pesUrl"], "/blobs/alice/embroidery/")
	assert.Nil(t, body["dstUrl"])

	status := decode(t, s.get("", "/api/status", fileURL))
	assert.Equal(t, "Converted", status["status"])
	assert.Equal(t, body["pesUrl"], status["pesUrl"])
	assert.Contains(t, status, "dstUrl")

	s.convertReply.Store(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	})
	rec = s.send("alice", http.MethodPost, "/api/convert-file", map[string]string{"fileUrl": fileURL})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"Flask error"}`, rec.Body.String())

	status = decode(t, s.get("", "/api/status", fileURL))
	assert.Equal(t, "Flask error", status["status"])
	assert.Equal(t, "error", status["stage"])

	versions := decode(t, s.get("", "/api/file-versions", fileURL))
	assert.Len(t, versions["versions"], 2, "upload plus the converted pes")
}

func TestConvert_MalformedResponse(t *testing.T) {
	s := newServer(t, testConfig(), nil)
	fileURL := s.uploadPNG("alice")
	s.convertReply.Store(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	})

	rec := s.send("", http.MethodPost, "/api/convert-file", map[string]string{"fileUrl": fileURL})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"Flask response error"}`, rec.Body.String())
}

func TestUpdateStatus_InternalOnly(t *testing.T) {
	s := newServer(t, testConfig(), nil)
	fileURL := s.uploadPNG("alice")
	body := map[string]any{"fileUrl": fileURL, "status": "Vectorizing", "stage": "submitted", "progress": 40}

	assert.Equal(t, http.StatusForbidden, s.send("alice", http.MethodPost, "/api/update-status", body).Code)

	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/update-status", bytes.NewReader(data))
	req.Header.Set("X-Internal-Token", internalToken)
	rec := s.do("", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	progress := decode(t, s.get("", "/api/progress", fileURL))
	assert.EqualValues(t, 40, progress["progress"])
	assert.Equal(t, "Vectorizing", progress["status"])

	rec = s.send("root", http.MethodPost, "/api/update-status", map[string]any{"fileUrl": fileURL, "status": "Converted", "stage": "done"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVisibilityVersionsAndRollback(t *testing.T) {
	s := newServer(t, testConfig(), nil)
	fileURL := s.uploadPNG("alice")

	rec := s.send("", http.MethodPost, "/api/set-visibility", map[string]string{"fileUrl": fileURL, "visibility": "public"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.send("bob", http.MethodPost, "/api/set-visibility", map[string]string{"fileUrl": fileURL, "visibility": "public"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.send("alice", http.MethodPost, "/api/set-visibility", map[string]string{"fileUrl": fileURL, "visibility": "public"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusFound, s.get("", "/api/serve-file", fileURL).Code)

	rec = s.send("alice", http.MethodPost, "/api/save-version", map[string]string{"fileUrl": fileURL})
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decode(t, rec)

	rec = s.send("", http.MethodPost, "/api/rollback-file", map[string]any{"fileUrl": fileURL, "version": saved["version"]})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fileURL, decode(t, rec)["restoredFile"])

	rec = s.send("", http.MethodPost, "/api/rollback-file", map[string]any{"fileUrl": fileURL, "version": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadLogging(t *testing.T) {
	s := newServer(t, testConfig(), nil)
	fileURL := s.uploadPNG("alice")

	for _, format := range []string{"pes", "dst", "pes"} {
		rec := s.send("", http.MethodPost, "/api/log-download", map[string]string{"fileUrl": fileURL, "format": format})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	stats := decode(t, s.get("", "/api/download-stats", fileURL))
	assert.EqualValues(t, 3, stats["count"])
	assert.Len(t, stats["logs"], 3)
}

func TestFileAccessAndAuditLogs(t *testing.T) {
	s := newServer(t, testConfig(), nil)
	fileURL := s.uploadPNG("alice")

	assert.Equal(t, http.StatusUnauthorized, s.send("", http.MethodPost, "/api/log-file-access", map[string]string{"fileUrl": fileURL}).Code)
	assert.Equal(t, http.StatusBadRequest, s.send("alice", http.MethodPost, "/api/log-file-access", map[string]string{}).Code)

	rec := s.send("alice", http.MethodPost, "/api/log-file-access", map[string]string{"fileUrl": fileURL})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Access logged"}`, rec.Body.String())
	require.Equal(t, http.StatusFound, s.get("alice", "/api/serve-file", fileURL).Code)

	access := decode(t, s.get("alice", "/api/file-access", fileURL))
	logs, ok := access["logs"].([]any)
	require.True(t, ok)
	require.Len(t, logs, 2)
	assert.Equal(t, "served", logs[0].(map[string]any)["action"])
	assert.Equal(t, "alice", logs[0].(map[string]any)["username"])

	assert.Equal(t, http.StatusForbidden, s.get("bob", "/api/file-access", fileURL).Code)
	assert.Equal(t, http.StatusOK, s.get("root", "/api/file-access", fileURL).Code)

	audit := decode(t, s.get("alice", "/api/audit-logs", ""))
	assert.Len(t, audit["logs"], 2)
	bobAudit := decode(t, s.get("bob", "/api/audit-logs", ""))
	assert.Empty(t, bobAudit["logs"])
	assert.Equal(t, http.StatusUnauthorized, s.get("", "/api/audit-logs", "").Code)
}

func TestAdminEndpoints(t *testing.T) {
	s := newServer(t, testConfig(), nil)
	fileURL := s.uploadPNG("alice")

	assert.Equal(t, http.StatusUnauthorized, s.get("", "/api/list-files", "").Code)
	assert.Equal(t, http.StatusForbidden, s.get("alice", "/api/list-files", "").Code)

	files := decode(t, s.get("root", "/api/list-files", ""))
	assert.Equal(t, []any{fileURL}, files["files"])

	rec := s.send("root", http.MethodPost, "/api/clean-up", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode(t, rec)
	assert.Equal(t, "Cleanup complete", report["message"])
	assert.EqualValues(t, 0, report["deleted"])

	info := decode(t, s.get("alice", "/api/file-info", fileURL))
	assert.Equal(t, "alice", info["owner"])
	assert.Equal(t, "private", info["visibility"])
}

func TestDeleteFile(t *testing.T) {
	s := newServer(t, testConfig(), nil)
	fileURL := s.uploadPNG("alice")

	assert.Equal(t, http.StatusForbidden, s.send("bob", http.MethodDelete, "/api/delete-file", map[string]string{"fileUrl": fileURL}).Code)

	rec := s.send("alice", http.MethodDelete, "/api/delete-file", map[string]string{"fileUrl": fileURL})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"message":"File deleted"}`, rec.Body.String())

	status := decode(t, s.get("", "/api/status", fileURL))
	assert.Equal(t, "pending", status["stage"])
	assert.Equal(t, http.StatusNotFound, s.get("", strings.TrimPrefix(fileURL, "http://localhost:8090"), "").Code)
}

func TestHealthzAndUnavailableStore(t *testing.T) {
	store, srv := testsupport.NewRedisKV(t)
	s := newServer(t, testConfig(), store)

	rec := s.get("", "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	srv.Close()

	assert.Equal(t, http.StatusServiceUnavailable, s.get("", "/healthz", "").Code)

	rec = s.get("", "/api/status", "http://localhost:8090/blobs/alice/images/x.png")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"Status store unavailable"}`, rec.Body.String())
}

func TestMetricsExposed(t *testing.T) {
	s := newServer(t, testConfig(), nil)
	s.get("", "/healthz", "")

	rec := s.get("", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stitchdesk_http_requests_total")
}
