package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Compile-time check that LocalStaging implements Staging.
var _ Staging = (*LocalStaging)(nil)

// LocalStaging reads worker output from a directory shared with the worker.
type LocalStaging struct {
	dir string
}

// NewLocalStaging creates a LocalStaging rooted at dir.
// If dir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStaging(dir string) (*LocalStaging, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "clipvault")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	return &LocalStaging{dir: dir}, nil
}

// Dir returns the staging directory path.
func (s *LocalStaging) Dir() string {
	return s.dir
}

// Open opens a staged file for reading.
func (s *LocalStaging) Open(ctx context.Context, name string) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path) // #nosec G304 -- name is confined to the staging dir by resolve
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotStaged, name)
		}
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	return f, nil
}

// Remove deletes a staged file.
func (s *LocalStaging) Remove(_ context.Context, name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove staged file: %w", err)
	}
	return nil
}

func (s *LocalStaging) resolve(name string) (string, error) {
	if name == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name), nil
}
