package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/stitchdesk/stitchdesk/internal/ctxkeys"
	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/service"
)

// InternalTokenHeader carries the shared secret of internal callers such as
// the conversion service.
const InternalTokenHeader = "X-Internal-Token"

// Session checks for a JWT (cookie or bearer) and adds the caller to the
// context if valid. Requests without a valid token continue as guest.
func Session(sessions *service.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := service.TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			caller, err := sessions.VerifyToken(token)
			if err != nil {
				slog.Debug("invalid session token", "error", err, "path", r.URL.Path)
				// Invalid cookie, clear it and continue as guest
				if _, cerr := r.Cookie(service.SessionCookie); cerr == nil {
					sessions.ClearCookie(w)
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := ctxkeys.WithCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects guests with 401
func RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ctxkeys.Caller(r.Context()).IsGuest() {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// RequireAdmin allows only callers with the admin role
func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := ctxkeys.Caller(r.Context())
		if caller.IsGuest() {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !caller.IsAdmin() {
			writeError(w, http.StatusForbidden, "Admin role required")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// RequireInternal allows admins and callers presenting the internal token.
// An empty token disables the header path.
func RequireInternal(token string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if validInternalToken(token, r.Header.Get(InternalTokenHeader)) {
				ctx := ctxkeys.WithCaller(r.Context(), &model.Caller{Username: "internal", Role: model.RoleAdmin})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if ctxkeys.Caller(r.Context()).IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}
			slog.Warn("internal endpoint denied", "path", r.URL.Path, "ip", getClientIP(r))
			writeError(w, http.StatusForbidden, "Internal endpoint")
		}
	}
}

// validInternalToken performs constant-time comparison of tokens
func validInternalToken(expected, actual string) bool {
	if expected == "" || actual == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}
