package storage

import (
	"context"
	"time"
)

// BlobStore is the object storage collaborator: blob listing for the frontend
// picker, uploads for batch jobs (returning a time-limited signed URL) and
// downloads of pre-staged blobs.
type BlobStore interface {
	List(ctx context.Context) ([]string, error)
	Upload(ctx context.Context, localPath, blobName string, signedTTL time.Duration) (string, error)
	Download(ctx context.Context, blobName, destPath string) error
}
