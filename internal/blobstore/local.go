package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStore writes blobs into a directory on disk.
type LocalStore struct {
	dir    string
	prefix string
}

// NewLocalStore creates dir if needed. References returned by Put are
// prefix/<file name>.
func NewLocalStore(dir, prefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &LocalStore{dir: dir, prefix: strings.Trim(prefix, "/")}, nil
}

// Put writes data to a new file. Existing files are never overwritten.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name = sanitize(name, 0)
	full := filepath.Join(s.dir, name)

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(full)
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("failed to close %s: %w", name, err)
	}
	return s.ref(name), nil
}

// Delete removes the file behind ref. Missing files are not an error.
func (s *LocalStore) Delete(_ context.Context, ref string) error {
	full := filepath.Join(s.dir, sanitize(path.Base(ref), 0))
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Dir is the directory files are written to.
func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) ref(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}
