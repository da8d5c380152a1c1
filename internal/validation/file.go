package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/stitchdesk/stitchdesk/internal/model"
)

var (
	ErrExtensionNotAllowed = errors.New("not allowed")
	ErrFileTooLarge        = errors.New("file too large")
	ErrContentMismatch     = errors.New("file content does not match its extension")
)

// markerWindow is how far into a file the marker is searched for. SVG
// exporters often write long comment, DOCTYPE, or metadata prologs.
const markerWindow = 64 << 10

// FileConstraints defines validation rules for one upload category
type FileConstraints struct {
	Category          model.Category
	AllowedMimeTypes  map[string]bool // nil skips content sniffing
	AllowedExtensions map[string]bool
	ContentTypes      map[string]string // extension -> stored content type
	Marker            []byte            // required within the first markerWindow bytes, when set
}

var (
	// ImageConstraints covers raster artwork; content is sniffed from magic numbers
	ImageConstraints = FileConstraints{
		Category: model.CategoryImage,
		AllowedMimeTypes: map[string]bool{
			"image/jpeg": true,
			"image/png":  true,
			"image/webp": true,
		},
		AllowedExtensions: map[string]bool{
			".jpg":  true,
			".jpeg": true,
			".png":  true,
			".webp": true,
		},
		ContentTypes: map[string]string{
			".jpg":  "image/jpeg",
			".jpeg": "image/jpeg",
			".png":  "image/png",
			".webp": "image/webp",
		},
	}

	// EmbroideryConstraints covers machine stitch files. Their binary layouts
	// have no registered MIME type, so only the extension is checked.
	EmbroideryConstraints = FileConstraints{
		Category: model.CategoryEmbroidery,
		AllowedExtensions: map[string]bool{
			".pes": true,
			".dst": true,
			".exp": true,
		},
		ContentTypes: map[string]string{
			".pes": "application/octet-stream",
			".dst": "application/octet-stream",
			".exp": "application/octet-stream",
		},
	}

	// VectorConstraints covers SVG artwork, which sniffs as text. A leading
	// comment makes it sniff as HTML.
	VectorConstraints = FileConstraints{
		Category: model.CategoryVector,
		AllowedMimeTypes: map[string]bool{
			"text/xml; charset=utf-8":   true,
			"text/plain; charset=utf-8": true,
			"text/html; charset=utf-8":  true,
		},
		AllowedExtensions: map[string]bool{
			".svg": true,
		},
		ContentTypes: map[string]string{
			".svg": "image/svg+xml",
		},
		Marker: []byte("<svg"),
	}

	uploadConstraints = []FileConstraints{ImageConstraints, EmbroideryConstraints, VectorConstraints}
)

// ValidatedFile is the outcome of checking one upload.
type ValidatedFile struct {
	Header      *multipart.FileHeader
	Category    model.Category
	Ext         string
	ContentType string
}

// ConstraintsFor picks the constraint set by extension.
func ConstraintsFor(filename string) (FileConstraints, string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, c := range uploadConstraints {
		if c.AllowedExtensions[ext] {
			return c, ext, nil
		}
	}
	if ext == "" {
		ext = "(none)"
	}
	return FileConstraints{}, ext, fmt.Errorf("file type %s %w", ext, ErrExtensionNotAllowed)
}

// ValidateUpload checks extension, size, and content of one uploaded file
func ValidateUpload(header *multipart.FileHeader, maxSize int64) (ValidatedFile, error) {
	constraints, ext, err := ConstraintsFor(header.Filename)
	if err != nil {
		return ValidatedFile{}, err
	}

	// Check file size first (before reading content)
	if maxSize > 0 && header.Size > maxSize {
		maxMB := maxSize / (1 << 20)
		return ValidatedFile{}, fmt.Errorf("%w: maximum size is %d MB", ErrFileTooLarge, maxMB)
	}

	if constraints.AllowedMimeTypes != nil {
		err = sniff(header, constraints)
		if err != nil {
			return ValidatedFile{}, err
		}
	}

	return ValidatedFile{
		Header:      header,
		Category:    constraints.Category,
		Ext:         ext,
		ContentType: constraints.ContentTypes[ext],
	}, nil
}

func sniff(header *multipart.FileHeader, constraints FileConstraints) error {
	file, err := header.Open()
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	size := 512 // http.DetectContentType reads max 512 bytes
	if constraints.Marker != nil {
		size = markerWindow
	}
	buffer := make([]byte, size)
	n, err := io.ReadFull(file, buffer)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("failed to read file: %w", err)
	}

	// Detect actual content type from file content (magic numbers)
	detectedType := http.DetectContentType(buffer[:min(n, 512)])
	if !constraints.AllowedMimeTypes[detectedType] {
		return fmt.Errorf("%w (detected: %s)", ErrContentMismatch, detectedType)
	}
	if constraints.Marker != nil && !bytes.Contains(buffer[:n], constraints.Marker) {
		return fmt.Errorf("%w (missing %q)", ErrContentMismatch, constraints.Marker)
	}

	return nil
}

// IsInvalidFile reports whether err is a client-side upload validation failure.
func IsInvalidFile(err error) bool {
	return errors.Is(err, ErrExtensionNotAllowed) ||
		errors.Is(err, ErrFileTooLarge) ||
		errors.Is(err, ErrContentMismatch)
}
