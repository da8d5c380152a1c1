package service

import "errors"

var (
	ErrNoFiles           = errors.New("no files uploaded")
	ErrUploadFailed      = errors.New("upload failed")
	ErrNotOwner          = errors.New("caller does not own this file")
	ErrAuthRequired      = errors.New("authentication required")
	ErrVersionNotFound   = errors.New("version not found")
	ErrFileNotFound      = errors.New("file not found")
	ErrMissingFileURL    = errors.New("missing fileUrl")
	ErrInvalidVisibility = errors.New("visibility must be public or private")
)
