package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/transkriptor/backend/internal/storage"
)

// SupabaseBlobStore keeps batch-job audio in a Supabase storage bucket and
// hands out time-limited signed URLs for the batch recognizer to read from.
type SupabaseBlobStore struct {
	client *storage_go.Client
	bucket string
}

func NewSupabaseBlobStore(url, serviceKey, bucket string) storage.BlobStore {
	return &SupabaseBlobStore{
		client: storage_go.NewClient(url, serviceKey, nil),
		bucket: bucket,
	}
}

func (s *SupabaseBlobStore) List(_ context.Context) ([]string, error) {
	files, err := s.client.ListFiles(s.bucket, "", storage_go.FileSearchOptions{})
	if err != nil {
		return nil, fmt.Errorf("list bucket %s: %w", s.bucket, err)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names, nil
}

func (s *SupabaseBlobStore) Upload(_ context.Context, localPath, blobName string, signedTTL time.Duration) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := s.client.UploadFile(s.bucket, blobName, f); err != nil {
		return "", fmt.Errorf("upload %s to bucket %s: %w", blobName, s.bucket, err)
	}
	signed, err := s.client.CreateSignedUrl(s.bucket, blobName, int(signedTTL.Seconds()))
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", blobName, err)
	}
	return signed.SignedURL, nil
}

func (s *SupabaseBlobStore) Download(_ context.Context, blobName, destPath string) error {
	data, err := s.client.DownloadFile(s.bucket, blobName)
	if err != nil {
		return fmt.Errorf("download %s from bucket %s: %w", blobName, s.bucket, err)
	}
	return os.WriteFile(destPath, data, 0o644)
}
