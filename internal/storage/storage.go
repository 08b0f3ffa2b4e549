package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"mime"
	"path"
	"strings"
)

// imageKeyPrefix namespaces uploaded product images inside the bucket.
const imageKeyPrefix = "products/"

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// ImageStore persists uploaded product images in an object storage backend
// and hands back the stored keys that end up in a product's image list.
type ImageStore struct {
	backend ObjectStorage
}

// NewImageStore constructs an ImageStore for the provided backend.
func NewImageStore(backend ObjectStorage) *ImageStore {
	return &ImageStore{backend: backend}
}

// EnsureBucket ensures the configured bucket exists.
func (s *ImageStore) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// StoreImage uploads an image under a random key that keeps the original
// extension, and returns the key for inclusion in the product image list.
func (s *ImageStore) StoreImage(ctx context.Context, filename string, r io.Reader, size int64) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	key := imageKeyPrefix + hex.EncodeToString(buf[:]) + ext

	if err := s.backend.Put(ctx, key, r, size, contentType); err != nil {
		return "", err
	}
	return key, nil
}

// Open returns a reader for a stored image.
func (s *ImageStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

// Delete removes a stored image.
func (s *ImageStore) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// Bucket returns the configured bucket name.
func (s *ImageStore) Bucket() string {
	return s.backend.Bucket()
}
