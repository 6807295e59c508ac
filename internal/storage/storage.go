// Package storage provides object storage for cache artifacts.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage stores whole objects addressed by a slash-separated path.
// Implementations include the local filesystem (via afero) and S3.
type ObjectStorage interface {
	// Put stores data under objectPath. A reader never observes a partially
	// written object under objectPath.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Get returns the full contents of objectPath, or ErrObjectNotFound.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
