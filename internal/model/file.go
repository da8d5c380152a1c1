package model

import (
	"time"
)

// Visibility controls who may fetch a stored file through serve-file.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Category is the storage folder a file lands in, derived from its extension.
type Category string

const (
	CategoryImage      Category = "images"
	CategoryEmbroidery Category = "embroidery"
	CategoryVector     Category = "vectors"
)

// UploadedFile is one entry of an upload response.
type UploadedFile struct {
	URL        string    `json:"url"`
	ExpiryDate time.Time `json:"expiryDate"`
}

// VersionEntry is pushed each time an original or converted file is registered.
type VersionEntry struct {
	Version int64  `json:"version"` // unix milliseconds
	FileURL string `json:"fileUrl"`
}

type DownloadEntry struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type DownloadStats struct {
	Count int64           `json:"count"`
	Logs  []DownloadEntry `json:"logs"`
}

// Access actions recorded in the file-access and audit logs.
const (
	AccessViewed = "viewed"
	AccessServed = "served"
)

// AccessEntry is one read of a file by a signed-in user.
type AccessEntry struct {
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	FileURL   string    `json:"fileUrl"`
	Timestamp time.Time `json:"timestamp"`
}

// FileRecord is the aggregate of every per-URL key in the status store.
type FileRecord struct {
	URL        string         `json:"url"`
	Owner      string         `json:"owner"`
	Visibility Visibility     `json:"visibility"`
	Status     StatusRecord   `json:"status"`
	Progress   int            `json:"progress"`
	Versions   []VersionEntry `json:"versions"`
	Downloads  DownloadStats  `json:"downloads"`
	Access     []AccessEntry  `json:"access"`
}
