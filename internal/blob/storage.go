package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	storage_go "github.com/supabase-community/storage-go"

	"github.com/anwado/backend/internal/config"
)

// ErrNotConfigured is returned for every operation when the object store
// credentials are absent. Callers surface it as a dependency failure instead
// of crashing at startup, so a development server without storage still
// boots.
var ErrNotConfigured = errors.New("object storage not configured")

// Store wraps the storage API behind the three operations the backend
// needs: write a blob, sign a download URL, delete blobs.
type Store struct {
	client *storage_go.Client
	bucket string
}

func New(cfg config.StorageConfig) *Store {
	if cfg.URL == "" || cfg.ServiceKey == "" {
		slog.Warn("object storage not configured, uploads will fail",
			"bucket", cfg.Bucket)
		return &Store{bucket: cfg.Bucket}
	}
	client := storage_go.NewClient(cfg.URL, cfg.ServiceKey, nil)
	return &Store{client: client, bucket: cfg.Bucket}
}

// Upload writes the blob at key, overwriting any previous object.
func (s *Store) Upload(ctx context.Context, key, contentType string, data io.Reader) error {
	if s.client == nil {
		return ErrNotConfigured
	}
	upsert := true
	_, err := s.client.UploadFile(s.bucket, key, data, storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// SignedURL mints a presigned download URL valid for expiry.
func (s *Store) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.client == nil {
		return "", ErrNotConfigured
	}
	resp, err := s.client.CreateSignedUrl(s.bucket, key, int(expiry.Seconds()))
	if err != nil {
		return "", fmt.Errorf("failed to sign url for %s: %w", key, err)
	}
	return resp.SignedURL, nil
}

// Download fetches a blob's bytes; used when OCR runs lazily against an
// already-stored document.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	if s.client == nil {
		return nil, ErrNotConfigured
	}
	data, err := s.client.DownloadFile(s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return data, nil
}

// Remove deletes the given keys. Missing objects are not an error.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if s.client == nil {
		return ErrNotConfigured
	}
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.client.RemoveFile(s.bucket, keys); err != nil {
		return fmt.Errorf("failed to remove blobs: %w", err)
	}
	return nil
}
