package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// LocalURLPrefix is the path under which the local backend's files are served.
const LocalURLPrefix = "/uploads"

// LocalStorage keeps objects as files under a root directory.
type LocalStorage struct {
	root    string
	baseURL string
}

// NewLocalStorage constructs a disk-backed store rooted at dir. Object URLs
// are baseURL followed by the key.
func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	if dir == "" {
		return nil, errors.New("local storage directory is required")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &LocalStorage{root: root, baseURL: baseURL}, nil
}

// EnsureBucket creates the root directory.
func (l *LocalStorage) EnsureBucket(ctx context.Context) error {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return fmt.Errorf("storage: create directory %s: %w", l.root, err)
	}
	return nil
}

// Put writes the object to a temp file and renames it into place, so readers
// never observe a partial image.
func (l *LocalStorage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := l.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("storage: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: create file: %w", err)
	}
	tmpPath := tmp.Name()

	written, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil && size >= 0 && written != size {
		err = fmt.Errorf("short write: %d of %d bytes", written, size)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage: write file: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage: rename file: %w", err)
	}
	return nil
}

// Get opens the object's file.
func (l *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return f, err
}

// Delete removes the object's file. Missing files are not an error.
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: delete file: %w", err)
	}
	return nil
}

func (l *LocalStorage) URL(key string) string {
	return joinURL(l.baseURL, key)
}

// Bucket returns the root directory.
func (l *LocalStorage) Bucket() string {
	return l.root
}

// FileServer serves the stored files. Mount it under LocalURLPrefix with the
// prefix stripped.
func (l *LocalStorage) FileServer() http.Handler {
	return http.FileServer(http.Dir(l.root))
}

func (l *LocalStorage) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}
