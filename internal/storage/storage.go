// Package storage gives access to the media files produced by the
// extraction worker. The worker writes into a staging area, either a shared
// directory or an S3-compatible bucket; the pipeline opens each file once
// for upload and removes it afterwards.
package storage

import (
	"context"
	"errors"
	"os"
)

var (
	// ErrInvalidName is returned for names that would escape the staging area.
	ErrInvalidName = errors.New("storage: invalid staged file name")
	// ErrNotStaged is returned when the named file does not exist.
	ErrNotStaged = errors.New("storage: file not staged")
)

// Staging defines access to staged media files.
type Staging interface {
	// Open returns a local, seekable handle on the named file. The caller
	// closes it.
	Open(ctx context.Context, name string) (*os.File, error)

	// Remove deletes the named file and any local copy. Removing a file that
	// no longer exists is not an error.
	Remove(ctx context.Context, name string) error
}
