// Package archive moves whole chunks between the local chunk store and
// cold object storage. A chunk archives as one snappy-compressed tar
// object, so a restore is a single download followed by the same atomic
// rename publish used by the chunk writer.
package archive

import (
	"context"
	"errors"
)

// Common errors for object storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts the cold store. Implementations include S3 and
// the local filesystem for testing.
type ObjectStorage interface {
	// Upload copies a local file to object storage.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies an object to a local file.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
