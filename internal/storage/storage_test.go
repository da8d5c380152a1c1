package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchdesk/stitchdesk/internal/model"
)

func newFS(t *testing.T) *FSStorage {
	t.Helper()
	s, err := NewFSStorage(t.TempDir(), "http://localhost:8090/blobs/")
	require.NoError(t, err)
	return s
}

func TestFSStorage_PutListDelete(t *testing.T) {
	ctx := context.Background()
	s := newFS(t)

	obj, err := s.Put(ctx, "alice/images/a.png", strings.NewReader("png-bytes"), 9, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8090/blobs/alice/images/a.png", obj.URL)
	assert.Equal(t, int64(9), obj.Size)

	objects, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "alice/images/a.png", objects[0].Path)
	assert.Equal(t, obj.URL, objects[0].URL)
	assert.False(t, objects[0].LastModified.IsZero())

	require.NoError(t, s.Delete(ctx, "alice/images/a.png"))
	require.NoError(t, s.Delete(ctx, "alice/images/a.png"), "deleting twice is fine")

	objects, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestFSStorage_URLRoundTrip(t *testing.T) {
	s := newFS(t)

	url := s.URL("bob/embroidery/x.pes")
	path, ok := s.PathFromURL(url)
	assert.True(t, ok)
	assert.Equal(t, "bob/embroidery/x.pes", path)

	_, ok = s.PathFromURL("https://elsewhere.example/bob/embroidery/x.pes")
	assert.False(t, ok)
}

func TestFSStorage_RejectsEscapingPaths(t *testing.T) {
	s := newFS(t)
	for _, p := range []string{"../x.png", "a/../../x.png", "/etc/passwd", ""} {
		_, err := s.Put(context.Background(), p, strings.NewReader("x"), 1, "text/plain")
		assert.Error(t, err, p)
	}
}

func TestFSStorage_CancelledPutLeavesNothing(t *testing.T) {
	s := newFS(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, "alice/images/a.png", strings.NewReader("data"), 4, "image/png")
	require.Error(t, err)

	objects, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestFSStorage_Handler(t *testing.T) {
	s := newFS(t)
	_, err := s.Put(context.Background(), "alice/vectors/v.svg", strings.NewReader("<svg/>"), 6, "image/svg+xml")
	require.NoError(t, err)

	srv := httptest.NewServer(http.StripPrefix("/blobs", s.Handler()))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/blobs/alice/vectors/v.svg")
	require.NoError(t, err)
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "<svg/>", string(body))
}

func TestFSStorage_AccessURL(t *testing.T) {
	s := newFS(t)
	url, err := s.AccessURL(context.Background(), "a/images/b.png", model.VisibilityPrivate)
	require.NoError(t, err)
	assert.Equal(t, s.URL("a/images/b.png"), url)
}

func TestProgressReader_ReportsMonotonicPercentages(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 1000)
	var got []int
	r := NewProgressReader(bytes.NewReader(data), int64(len(data)), 100, func(p int) {
		got = append(got, p)
	})

	buf := make([]byte, 4096)
	var total int
	for {
		n, err := r.Read(buf)
		assert.LessOrEqual(t, n, 100, "reads are capped at the chunk size")
		total += n
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	assert.Equal(t, len(data), total)
	assert.Equal(t, []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, got)
}

func TestProgressReader_SeekDoesNotRegress(t *testing.T) {
	data := bytes.Repeat([]byte{0x1}, 10)
	var got []int
	r := NewProgressReader(bytes.NewReader(data), 10, 5, func(p int) { got = append(got, p) })

	_, err := io.ReadAll(r)
	require.NoError(t, err)

	pos, err := r.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Zero(t, pos)

	_, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []int{50, 100}, got)
}

func TestProgressReader_UnknownSize(t *testing.T) {
	var got []int
	r := NewProgressReader(strings.NewReader("abc"), -1, 0, func(p int) { got = append(got, p) })
	_, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []int{100}, got)
}
