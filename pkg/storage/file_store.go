package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStore saves uploaded images to disk under a base directory.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Save writes an uploaded image under its stored name.
func (f *FileStore) Save(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	target, err := f.resolve(name)
	if err != nil {
		return err
	}
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Open returns the stored image for reading. os.ErrNotExist surfaces when
// the exact name is absent.
func (f *FileStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	target, err := f.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Open(target)
}

// Delete removes a stored image; missing files are not an error.
func (f *FileStore) Delete(_ context.Context, name string) error {
	target, err := f.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (f *FileStore) resolve(name string) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(os.PathSeparator) {
		return "", fmt.Errorf("invalid stored name")
	}
	return filepath.Join(f.basePath, name), nil
}
