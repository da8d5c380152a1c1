// Package kv is the key-value backend behind the status store. It exposes the
// small subset of redis semantics the pipeline needs (strings, lists,
// counters, expiry) so the same repository code runs on redis or on a SQL
// database.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNil is returned by Get for a missing key. It is a normal state.
	ErrNil = errors.New("kv: nil")

	// ErrUnavailable marks failures talking to the backend. Callers surface it
	// as "store unavailable"; nothing at this layer retries.
	ErrUnavailable = errors.New("kv: store unavailable")
)

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error

	// LPush prepends values one at a time, so the last value ends up first.
	LPush(ctx context.Context, key string, values ...string) (int64, error)
	// LRange and LTrim take inclusive indexes; negative indexes count from
	// the tail like redis.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LLen(ctx context.Context, key string) (int64, error)

	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// listBounds converts redis-style inclusive indexes into half-open slice
// bounds for a list of length n. ok is false when the range is empty.
func listBounds(n, start, stop int64) (lo, hi int64, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}
