package testsupport

import (
	"bytes"
	"mime/multipart"
	"testing"

	"github.com/stitchdesk/stitchdesk/internal/storage"
)

// BaseURL is the public URL the test blob stores are mounted under.
const BaseURL = "http://localhost:8090/blobs"

// PNG is the smallest prefix http.DetectContentType recognises as image/png.
var PNG = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

// SVG is a minimal vector document.
var SVG = []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg" width="1" height="1"></svg>`)

// File is one part of a multipart upload.
type File struct {
	Name    string
	Content []byte
}

// MultipartBody encodes files as a multipart/form-data body under field.
func MultipartBody(t testing.TB, field string, files ...File) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := w.CreateFormFile(field, f.Name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write(f.Content); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

// MultipartFiles returns parsed file headers for files, the shape the upload
// handler passes to the upload service.
func MultipartFiles(t testing.TB, files ...File) []*multipart.FileHeader {
	t.Helper()

	body, contentType := MultipartBody(t, "files", files...)
	_, boundary, found := bytes.Cut([]byte(contentType), []byte("boundary="))
	if !found {
		t.Fatalf("no boundary in %q", contentType)
	}

	form, err := multipart.NewReader(body, string(boundary)).ReadForm(32 << 20)
	if err != nil {
		t.Fatalf("ReadForm: %v", err)
	}
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["files"]
}

// NewFSStorage returns a filesystem blob store rooted in a temp dir.
func NewFSStorage(t testing.TB) *storage.FSStorage {
	t.Helper()

	s, err := storage.NewFSStorage(t.TempDir(), BaseURL)
	if err != nil {
		t.Fatalf("NewFSStorage: %v", err)
	}
	return s
}
