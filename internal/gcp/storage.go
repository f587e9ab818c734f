package gcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// TempStore is the bounded-retention scratch space for raw file bytes during
// the active processing window. Expiry of stale objects is the bucket's
// lifecycle policy, not code in this package.
type TempStore struct {
	client *storage.Client
	bucket string
}

// NewTempStore creates a TempStore over the named bucket.
func NewTempStore(ctx context.Context, bucket string) (*TempStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name must be provided to create a temp store")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &TempStore{client: client, bucket: bucket}, nil
}

// Put writes data under key only if the object doesn't already exist, so a
// retried finalize never clobbers a finished write. An existing object is
// treated as success.
func (s *TempStore) Put(ctx context.Context, key string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 412 {
			slog.Info("Object already exists, skipping write.", "key", key)
			return nil // Not a failure in an idempotent workflow.
		}
		return fmt.Errorf("failed to write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 412 {
			slog.Info("Object already exists, skipping write.", "key", key)
			return nil
		}
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Get reads the full object under key.
func (s *TempStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", s.bucket, key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

// Delete removes the object under key. A missing object is not an error.
func (s *TempStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// ListPrefix returns the keys under prefix in lexicographic order.
func (s *TempStore) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s*: %w", s.bucket, prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// DeletePrefix removes every object under prefix and returns how many went.
// Best-effort: individual delete failures are logged and the sweep continues,
// because blocking the caller on cleanup is worse than a leaked temp object.
func (s *TempStore) DeletePrefix(ctx context.Context, prefix string) int {
	keys, err := s.ListPrefix(ctx, prefix)
	if err != nil {
		slog.Error("Failed to list objects for prefix delete.", "prefix", prefix, "error", err)
		return 0
	}
	var removed int
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			slog.Error("Failed to delete temp object.", "key", key, "error", err)
			continue
		}
		removed++
	}
	return removed
}
