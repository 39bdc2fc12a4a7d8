package clip

import "context"

// Store defines the persistence port for clip records.
type Store interface {
	// Get returns the record for clipName or ErrNotFound.
	Get(ctx context.Context, clipName string) (*Clip, error)

	// Create inserts a new record. Returns ErrAlreadyExists when a record
	// with the same clip name is already stored.
	Create(ctx context.Context, c *Clip) error

	// UpdateIfExists applies patch to the record and returns the updated copy.
	// Returns ErrNotFound when the record has been deleted in the meantime.
	UpdateIfExists(ctx context.Context, clipName string, patch Patch) (*Clip, error)

	// Delete removes the record and reports how many records were removed.
	Delete(ctx context.Context, clipName string) (int64, error)

	// Recent returns up to PageSize records, newest first, skipping offset.
	Recent(ctx context.Context, offset int) ([]*Clip, error)

	// ByCreator returns up to PageSize records of one creator, newest first.
	ByCreator(ctx context.Context, creatorID int64, offset int) ([]*Clip, error)
}
