// Package storage keeps the blobs of uploaded user files in object storage.
package storage

import (
	"context"

	"github.com/gridbase/gridbase/internal/errors"
)

// Sentinels for errors.Is matching.
var (
	ErrObjectNotFound = errors.NewStorageError(errors.CodeObjectNotFound, "object not found", nil)
	ErrUploadFailed   = errors.NewStorageError(errors.CodeUploadFailed, "upload failed", nil)
	ErrDownloadFailed = errors.NewStorageError(errors.CodeDownloadFailed, "download failed", nil)
)

// ObjectStorage stores blobs under slash separated object paths. The local
// filesystem and S3 implement it.
type ObjectStorage interface {
	// Upload copies a local file to objectPath, replacing any object
	// stored there.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies the object at objectPath to localPath. A missing
	// object fails with ErrObjectNotFound.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object succeeds.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object is stored at objectPath.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns every object path under prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes. Smaller files are put in
	// one request.
	PartSize int64
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize: 5 * 1024 * 1024, // 5MB
	}
}

func uploadFailed(msg string, cause error) error {
	return errors.NewStorageError(errors.CodeUploadFailed, msg, cause)
}

func downloadFailed(msg string, cause error) error {
	return errors.NewStorageError(errors.CodeDownloadFailed, msg, cause)
}
