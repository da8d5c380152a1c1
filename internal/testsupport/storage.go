package testsupport

import (
	"context"
	"io"
	"sync"

	"github.com/stitchdesk/stitchdesk/internal/storage"
)

// RecordingStorage wraps a blob store, remembers every Put path and can be
// told to fail writes.
type RecordingStorage struct {
	storage.Storage

	mu     sync.Mutex
	puts   []string
	putErr error
}

func NewRecordingStorage(s storage.Storage) *RecordingStorage {
	return &RecordingStorage{Storage: s}
}

// FailPuts makes every later Put return err; nil restores normal writes.
func (r *RecordingStorage) FailPuts(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putErr = err
}

func (r *RecordingStorage) Puts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.puts...)
}

func (r *RecordingStorage) Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) (storage.Object, error) {
	r.mu.Lock()
	r.puts = append(r.puts, path)
	err := r.putErr
	r.mu.Unlock()
	if err != nil {
		return storage.Object{}, err
	}
	return r.Storage.Put(ctx, path, body, size, contentType)
}
