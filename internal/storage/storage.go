package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/pothole-detector/apiserver/config"
)

const (
	BackendLocal = "local"
	BackendMinio = "minio"
	BackendGCS   = "gcs"
)

// Report images never change once written.
const imageCacheControl = "public, max-age=31536000, immutable"

var (
	// ErrInvalidKey is returned for object keys that could escape their prefix.
	ErrInvalidKey = errors.New("invalid object key")

	// ErrObjectNotFound is returned by Get when no object exists under the key.
	ErrObjectNotFound = errors.New("object not found")
)

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// URL returns the address clients use to fetch the object.
	URL(key string) string
	Bucket() string
}

// Storage wraps an ObjectStorage backend and validates keys before they
// reach it.
type Storage struct {
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// Open builds the backend selected by cfg.Storage.Backend and makes sure its
// bucket or directory exists.
func Open(ctx context.Context, cfg config.Config) (*Storage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Storage.Backend {
	case BackendLocal, "":
		backend, err = NewLocalStorage(cfg.Storage.Local.Dir, cfg.PublicBaseURL+LocalURLPrefix)
	case BackendMinio:
		backend, err = NewMinioClient(cfg.Storage.Minio)
	case BackendGCS:
		backend, err = NewGCSClient(ctx, cfg.Storage.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, err
	}

	s := NewStorage(backend)
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %q: %w", backend.Bucket(), err)
	}
	return s, nil
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Put uploads an object under key.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, key, r, size, contentType)
}

// Get opens a reader for the object under key.
func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	return s.backend.Get(ctx, key)
}

// Delete removes the object under key.
func (s *Storage) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	return s.backend.Delete(ctx, key)
}

// URL returns the public address of the object under key.
func (s *Storage) URL(key string) string {
	if cleaned, err := cleanKey(key); err == nil {
		key = cleaned
	}
	return s.backend.URL(key)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

// Backend exposes the wrapped backend.
func (s *Storage) Backend() ObjectStorage {
	return s.backend
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
