package storage

import (
	"context"
	"fmt"
	"strings"
)

// ErrFileNotFound is returned when the requested file does not exist in the storage
var ErrFileNotFound = fmt.Errorf("file not found")

// Storage persists fetched assets under a base uri
type Storage interface {
	// Save uploads localFile to relPath under the storage base uri and
	// returns the uri of the stored file
	Save(ctx context.Context, localFile, relPath string) (string, error)

	// Import downloads the file at relPath to localFile
	Import(ctx context.Context, relPath, localFile string) error

	// Delete removes the file at relPath
	Delete(ctx context.Context, relPath string) error
}

// NewStorage creates the Storage matching the scheme of baseURI
// (gs://bucket/prefix, s3://bucket/prefix or a local directory)
func NewStorage(ctx context.Context, baseURI string) (Storage, error) {
	switch {
	case strings.HasPrefix(baseURI, "gs://"):
		return NewGSStorage(ctx, baseURI)
	case strings.HasPrefix(baseURI, "s3://"):
		return NewS3Storage(ctx, baseURI)
	case strings.Contains(baseURI, "://") && !strings.HasPrefix(baseURI, "file://"):
		return nil, fmt.Errorf("NewStorage: unsupported scheme in %s", baseURI)
	default:
		return NewLocalStorage(strings.TrimPrefix(baseURI, "file://")), nil
	}
}
