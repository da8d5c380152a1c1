package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/stitchdesk/stitchdesk/internal/db"
	"github.com/stitchdesk/stitchdesk/internal/kv"
)

// NewSQLiteKV opens a migrated sqlite database in a temp dir and wraps it in a
// kv.SQLStore. The store is closed on cleanup.
func NewSQLiteKV(t testing.TB) *kv.SQLStore {
	t.Helper()

	database, err := db.Init("sqlite", filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	if err := db.RunMigrations(database.DB, "sqlite"); err != nil {
		t.Fatalf("db.RunMigrations: %v", err)
	}

	store := kv.NewSQLStore(database)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRedisKV starts an in-process miniredis and returns a kv.RedisStore
// pointed at it, along with the server for fast-forwarding TTLs.
func NewRedisKV(t testing.TB) (*kv.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	t.Cleanup(func() {
		store.Close()
	})
	return store, srv
}
