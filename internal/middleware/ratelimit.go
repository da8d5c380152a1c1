package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stitchdesk/stitchdesk/internal/kv"
)

// RateLimiter counts requests per client in fixed windows kept in the
// key-value store, so every server instance shares the same budget.
type RateLimiter struct {
	store  kv.Store
	scope  string
	limit  int64         // Max requests allowed
	window time.Duration // Time window for rate limiting
}

func NewRateLimiter(store kv.Store, scope string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		store:  store,
		scope:  scope,
		limit:  int64(limit),
		window: window,
	}
}

// Allow checks if a request from ip should be allowed
func (rl *RateLimiter) Allow(ctx context.Context, ip string) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", rl.scope, ip)

	n, err := rl.store.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	if n == 1 {
		_, err = rl.store.Expire(ctx, key, rl.window)
		if err != nil {
			return false, err
		}
	}
	return n <= rl.limit, nil
}

// Limit wraps a route with the limiter. A limit of zero or less disables it.
// When the store is unavailable requests are let through.
func (rl *RateLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	if rl.limit <= 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)

		ok, err := rl.Allow(r.Context(), ip)
		if err != nil {
			slog.Warn("rate limiter unavailable", "scope", rl.scope, "error", err)
			next(w, r)
			return
		}
		if !ok {
			slog.Warn("rate limit exceeded",
				"ip", ip,
				"scope", rl.scope,
				"path", r.URL.Path,
			)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
			return
		}

		next(w, r)
	}
}

// getClientIP extracts real client IP from request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (proxy/load balancer)
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		// Take first IP in list
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header
	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fallback to RemoteAddr
	ip := r.RemoteAddr
	// Remove port if present
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}

	return ip
}
