package auth

import (
	"context"
	"sync"
)

// User is the subset of a user profile needed to call APIs on their behalf.
type User struct {
	ID          int64      `json:"id" bson:"_id"`
	DisplayName string     `json:"displayName" bson:"displayName"`
	Credential  Credential `json:"-" bson:"credential"`
}

// UserStore persists users and their credentials.
type UserStore interface {
	// GetUser returns the user or ErrUserNotFound.
	GetUser(ctx context.Context, id int64) (*User, error)

	// UpdateCredential stores cred when its version is newer than the stored
	// one. Returns ErrStaleCredential otherwise.
	UpdateCredential(ctx context.Context, id int64, cred Credential) (*User, error)
}

// Compile-time check that MemoryUserStore implements UserStore.
var _ UserStore = (*MemoryUserStore)(nil)

// MemoryUserStore is an in-memory UserStore.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[int64]User
}

// NewMemoryUserStore creates an empty user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[int64]User)}
}

// Put inserts or replaces a user.
func (s *MemoryUserStore) Put(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// GetUser returns a copy of the stored user.
func (s *MemoryUserStore) GetUser(_ context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

// UpdateCredential replaces the stored credential when cred is newer.
func (s *MemoryUserStore) UpdateCredential(_ context.Context, id int64, cred Credential) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	if cred.Version <= u.Credential.Version {
		return nil, ErrStaleCredential
	}
	u.Credential = cred
	s.users[id] = u
	return &u, nil
}
