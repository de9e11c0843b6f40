package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	gcs "cloud.google.com/go/storage"

	"github.com/openfaktur/einvoice/internal/model"
)

// BlobStore holds raw submissions and extracted invoice XML. URIs are opaque
// to callers; only the store that issued a URI can resolve it.
type BlobStore interface {
	// Upload stores data under name and returns the URI to fetch it back.
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)

	// Download fetches the bytes behind a URI issued by Upload.
	Download(ctx context.Context, uri string) ([]byte, error)
}

// GCSStore keeps blobs in a Google Cloud Storage bucket under gs:// URIs.
type GCSStore struct {
	client *gcs.Client
	bucket string
}

// NewGCSStore creates a store over an existing client and bucket.
func NewGCSStore(client *gcs.Client, bucket string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket}
}

// Upload writes data to the bucket and returns its gs:// URI.
func (s *GCSStore) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return "", model.NewInfraError("blob.upload", "object write failed", err)
	}
	if err := w.Close(); err != nil {
		return "", model.NewInfraError("blob.upload", "object commit failed", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// Download fetches the object behind a gs:// URI.
func (s *GCSStore) Download(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := splitGCSURI(uri)
	if err != nil {
		return nil, model.NewInfraError("blob.download", "unresolvable storage URI", err)
	}
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, model.NewInfraError("blob.download", "object open failed", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, model.NewInfraError("blob.download", "object read failed", err)
	}
	return data, nil
}

func splitGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URI: %s", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed gs:// URI: %s", uri)
	}
	return bucket, object, nil
}

// MemoryStore is an in-memory BlobStore for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Upload stores a copy of data under a mem:// URI.
func (s *MemoryStore) Upload(_ context.Context, name string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[name] = append([]byte(nil), data...)
	return "mem://" + name, nil
}

// Download fetches the bytes behind a mem:// URI.
func (s *MemoryStore) Download(_ context.Context, uri string) ([]byte, error) {
	name, ok := strings.CutPrefix(uri, "mem://")
	if !ok {
		return nil, model.NewInfraError("blob.download", "unresolvable storage URI "+uri, nil)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, found := s.blobs[name]
	if !found {
		return nil, model.NewInfraError("blob.download", "no blob stored at "+uri, nil)
	}
	return append([]byte(nil), data...), nil
}
