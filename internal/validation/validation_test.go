package validation_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchdesk/stitchdesk/internal/model"
	"github.com/stitchdesk/stitchdesk/internal/testsupport"
	"github.com/stitchdesk/stitchdesk/internal/validation"
)

func TestConstraintsFor(t *testing.T) {
	tests := []struct {
		name     string
		category model.Category
		ext      string
	}{
		{"photo.JPG", model.CategoryImage, ".jpg"},
		{"a.webp", model.CategoryImage, ".webp"},
		{"design.pes", model.CategoryEmbroidery, ".pes"},
		{"design.Dst", model.CategoryEmbroidery, ".dst"},
		{"logo.svg", model.CategoryVector, ".svg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ext, err := validation.ConstraintsFor(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.category, c.Category)
			assert.Equal(t, tt.ext, ext)
		})
	}

	_, _, err := validation.ConstraintsFor("anim.gif")
	assert.ErrorIs(t, err, validation.ErrExtensionNotAllowed)
	assert.ErrorContains(t, err, ".gif")

	_, _, err = validation.ConstraintsFor("README")
	assert.ErrorContains(t, err, "(none)")
}

func TestValidateUpload(t *testing.T) {
	headers := testsupport.MultipartFiles(t,
		testsupport.File{Name: "art.png", Content: testsupport.PNG},
		testsupport.File{Name: "logo.svg", Content: testsupport.SVG},
		testsupport.File{Name: "design.pes", Content: []byte("#PES0001")},
	)

	png, err := validation.ValidateUpload(headers[0], 1<<20)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryImage, png.Category)
	assert.Equal(t, "image/png", png.ContentType)

	svg, err := validation.ValidateUpload(headers[1], 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml", svg.ContentType)

	pes, err := validation.ValidateUpload(headers[2], 1<<20)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryEmbroidery, pes.Category)
	assert.Equal(t, "application/octet-stream", pes.ContentType)
}

func TestValidateUpload_SVGProlog(t *testing.T) {
	const svgBody = `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><rect width="10" height="10"/></svg>`
	padding := "<!-- " + strings.Repeat("metadata ", 300) + "-->\n"

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"leading comment", "<!-- Created with Inkscape -->\n" + svgBody, nil},
		{"doctype and long metadata", `<?xml version="1.0"?>` + "\n" +
			`<!DOCTYPE svg PUBLIC "-//W3C//DTD SVG 1.1//EN" "http://www.w3.org/Graphics/SVG/1.1/DTD/svg11.dtd">` + "\n" +
			padding + svgBody, nil},
		{"svg element past the search window", `<?xml version="1.0"?>` + "\n" +
			strings.Repeat(padding, 30) + svgBody, validation.ErrContentMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := testsupport.MultipartFiles(t, testsupport.File{Name: "logo.svg", Content: []byte(tt.content)})
			vf, err := validation.ValidateUpload(headers[0], 1<<20)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.CategoryVector, vf.Category)
		})
	}
}

func TestValidateUpload_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		file    testsupport.File
		maxSize int64
		want    error
	}{
		{"too large", testsupport.File{Name: "art.png", Content: testsupport.PNG}, 8, validation.ErrFileTooLarge},
		{"text as png", testsupport.File{Name: "art.png", Content: []byte("hello world")}, 1 << 20, validation.ErrContentMismatch},
		{"svg without svg element", testsupport.File{Name: "logo.svg", Content: []byte("<?xml version=\"1.0\"?><html/>")}, 1 << 20, validation.ErrContentMismatch},
		{"png as svg", testsupport.File{Name: "logo.svg", Content: testsupport.PNG}, 1 << 20, validation.ErrContentMismatch},
		{"gif", testsupport.File{Name: "anim.gif", Content: []byte("GIF89a")}, 1 << 20, validation.ErrExtensionNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := testsupport.MultipartFiles(t, tt.file)
			_, err := validation.ValidateUpload(headers[0], tt.maxSize)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, validation.IsInvalidFile(err))
		})
	}
}

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, validation.ValidateUsername("alice"))
	assert.NoError(t, validation.ValidateUsername(model.GuestUsername))

	for _, bad := range []string{"", "  ", " alice", "a/b", `a\b`, "..", ".hidden", strings.Repeat("x", 101)} {
		assert.ErrorIs(t, validation.ValidateUsername(bad), validation.ErrInvalidUsername, bad)
	}
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, validation.ValidateEmail("alice@example.com"))

	for _, bad := range []string{"", "alice", "Alice <alice@example.com>", strings.Repeat("a", 250) + "@x.io"} {
		assert.Error(t, validation.ValidateEmail(bad), bad)
	}
}
