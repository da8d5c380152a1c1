package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchdesk/stitchdesk/internal/ctxkeys"
	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/service"
	"github.com/stitchdesk/stitchdesk/internal/testsupport"
)

func callerEcho(w http.ResponseWriter, r *http.Request) {
	caller := ctxkeys.Caller(r.Context())
	_, _ = w.Write([]byte(caller.Username + "/" + caller.Role))
}

func TestSession_AttachesCallerFromBearerOrCookie(t *testing.T) {
	sessions := service.NewSessionService("test-secret", time.Hour, false)
	token, err := sessions.IssueToken(model.Caller{Username: "alice", Role: model.RoleUser})
	require.NoError(t, err)

	h := Session(sessions)(http.HandlerFunc(callerEcho))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "alice/user", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.AddCookie(&http.Cookie{Name: service.SessionCookie, Value: token})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "alice/user", rec.Body.String())
}

func TestSession_InvalidCookieFallsBackToGuest(t *testing.T) {
	sessions := service.NewSessionService("test-secret", time.Hour, false)
	h := Session(sessions)(http.HandlerFunc(callerEcho))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: service.SessionCookie, Value: "garbage"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "guest/user", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Set-Cookie"), service.SessionCookie+"=;")
}

func TestRequireGuards(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }
	as := func(c *model.Caller) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		return req.WithContext(ctxkeys.WithCaller(req.Context(), c))
	}
	alice := &model.Caller{Username: "alice", Role: model.RoleUser}
	admin := &model.Caller{Username: "root", Role: model.RoleAdmin}

	tests := []struct {
		name string
		h    http.HandlerFunc
		req  *http.Request
		want int
	}{
		{"auth guest", RequireAuth(ok), httptest.NewRequest(http.MethodPost, "/", nil), http.StatusUnauthorized},
		{"auth user", RequireAuth(ok), as(alice), http.StatusNoContent},
		{"admin guest", RequireAdmin(ok), httptest.NewRequest(http.MethodPost, "/", nil), http.StatusUnauthorized},
		{"admin user", RequireAdmin(ok), as(alice), http.StatusForbidden},
		{"admin admin", RequireAdmin(ok), as(admin), http.StatusNoContent},
		{"internal user", RequireInternal("s3cret")(ok), as(alice), http.StatusForbidden},
		{"internal admin", RequireInternal("s3cret")(ok), as(admin), http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.h(rec, tt.req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(InternalTokenHeader, "s3cret")
	rec := httptest.NewRecorder()
	RequireInternal("s3cret")(ok)(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req.Header.Set(InternalTokenHeader, "wrong")
	rec = httptest.NewRecorder()
	RequireInternal("s3cret")(ok)(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	req.Header.Set(InternalTokenHeader, "")
	RequireInternal("")(ok)(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimiter_SharedWindowPerClient(t *testing.T) {
	store, srv := testsupport.NewRedisKV(t)
	rl := NewRateLimiter(store, "upload", 2, time.Minute)
	h := rl.Limit(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/upload", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("1.2.3.4"))
	assert.Equal(t, http.StatusOK, do("1.2.3.4"))
	assert.Equal(t, http.StatusTooManyRequests, do("1.2.3.4"))
	assert.Equal(t, http.StatusOK, do("5.6.7.8"))

	srv.FastForward(2 * time.Minute)
	assert.Equal(t, http.StatusOK, do("1.2.3.4"))

	srv.Close()
	assert.Equal(t, http.StatusOK, do("1.2.3.4"), "unavailable store lets requests through")
}

func TestRecover_ReturnsJSON500(t *testing.T) {
	h := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/api/upload", normalizePath("/api/upload"))
	assert.Equal(t, "/blobs/{path}", normalizePath("/blobs/alice/images/x.png"))
	assert.Equal(t, "other", normalizePath("/wp-login.php"))
}
