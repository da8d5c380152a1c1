package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stitchdesk/stitchdesk/internal/converter"
	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/repository"
	"github.com/stitchdesk/stitchdesk/internal/testsupport"
)

var (
	alice = &model.Caller{Username: "alice", Email: "alice@example.com", Role: model.RoleUser}
	bob   = &model.Caller{Username: "bob", Role: model.RoleUser}
	admin = &model.Caller{Username: "root", Role: model.RoleAdmin}
)

type testEnv struct {
	repo    repository.StatusRepository
	storage *testsupport.RecordingStorage
	locks   *KeyLock
	access  *AccessService
	uploads *UploadService
	files   *FileService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := repository.NewStatusRepository(testsupport.NewSQLiteKV(t))
	store := testsupport.NewRecordingStorage(testsupport.NewFSStorage(t))
	locks := NewKeyLock()
	access := NewAccessService(repo, store, 16, time.Minute)

	return &testEnv{
		repo:    repo,
		storage: store,
		locks:   locks,
		access:  access,
		uploads: NewUploadService(repo, store, locks, UploadConfig{
			MaxBytes:    1 << 20,
			Concurrency: 2,
			ChunkSize:   16,
			Retention:   30 * 24 * time.Hour,
		}),
		files: NewFileService(repo, store, access, 0),
	}
}

// uploadPNG stores one image for caller and returns its URL.
func (e *testEnv) uploadPNG(t *testing.T, caller *model.Caller) string {
	t.Helper()
	files := testsupport.MultipartFiles(t, testsupport.File{Name: "art.png", Content: testsupport.PNG})
	res, err := e.uploads.Upload(context.Background(), caller, files)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return res[0].URL
}

func (e *testEnv) convertService(conv Converter, timeout time.Duration) *ConvertService {
	return NewConvertService(e.repo, e.storage, e.locks, conv, ConvertConfig{Timeout: timeout})
}

type fakeConverter struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, fileURL string) (converter.Result, error)
}

func (f *fakeConverter) Convert(ctx context.Context, fileURL string) (converter.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fileURL)
	f.mu.Unlock()
	return f.fn(ctx, fileURL)
}

func returning(res converter.Result, err error) *fakeConverter {
	return &fakeConverter{fn: func(context.Context, string) (converter.Result, error) {
		return res, err
	}}
}
