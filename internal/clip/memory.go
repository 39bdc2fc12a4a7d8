package clip

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// Records are cloned on the way in and out.
type MemoryStore struct {
	mu    sync.RWMutex
	clips map[string]*Clip
}

// NewMemoryStore creates an empty in-memory clip store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clips: make(map[string]*Clip)}
}

// Get retrieves a record by clip name.
func (s *MemoryStore) Get(_ context.Context, clipName string) (*Clip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clips[clipName]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// Create inserts a record, enforcing clip name uniqueness.
func (s *MemoryStore) Create(_ context.Context, c *Clip) error {
	if c.ClipName == "" {
		return ErrNameRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clips[c.ClipName]; ok {
		return ErrAlreadyExists
	}
	stored := c.Clone()
	stored.Version = 1
	s.clips[c.ClipName] = stored
	c.Version = stored.Version
	return nil
}

// UpdateIfExists applies patch when the record is still present.
func (s *MemoryStore) UpdateIfExists(_ context.Context, clipName string, patch Patch) (*Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clips[clipName]
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(c)
	return c.Clone(), nil
}

// Delete removes a record.
func (s *MemoryStore) Delete(_ context.Context, clipName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clips[clipName]; !ok {
		return 0, nil
	}
	delete(s.clips, clipName)
	return 1, nil
}

// Recent lists records by creation time, newest first.
func (s *MemoryStore) Recent(_ context.Context, offset int) ([]*Clip, error) {
	return s.page(offset, func(*Clip) bool { return true }), nil
}

// ByCreator lists one creator's records, newest first.
func (s *MemoryStore) ByCreator(_ context.Context, creatorID int64, offset int) ([]*Clip, error) {
	return s.page(offset, func(c *Clip) bool { return c.CreatorID == creatorID }), nil
}

func (s *MemoryStore) page(offset int, keep func(*Clip) bool) []*Clip {
	s.mu.RLock()
	matched := make([]*Clip, 0, len(s.clips))
	for _, c := range s.clips {
		if keep(c) {
			matched = append(matched, c.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ClipCreatedAt.Equal(matched[j].ClipCreatedAt) {
			return matched[i].ClipName < matched[j].ClipName
		}
		return matched[i].ClipCreatedAt.After(matched[j].ClipCreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []*Clip{}
	}
	end := min(offset+PageSize, len(matched))
	return matched[offset:end]
}
