package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrAttemptNotFound is returned when an attempt cannot be found by ID.
var ErrAttemptNotFound = errors.New("ingest: attempt not found")

// Ledger persists ingestion attempts.
type Ledger interface {
	// Save inserts or replaces an attempt.
	Save(ctx context.Context, a *Attempt) error

	// Get retrieves an attempt by ID or returns ErrAttemptNotFound.
	Get(ctx context.Context, id string) (*Attempt, error)

	// ListActive returns the attempts that have not reached a terminal state,
	// oldest first.
	ListActive(ctx context.Context) ([]*Attempt, error)
}

// Compile-time check that MemoryLedger implements Ledger.
var _ Ledger = (*MemoryLedger)(nil)

// MemoryLedger is an in-memory implementation of Ledger.
// It does not survive restarts; use RedisLedger when resumption matters.
type MemoryLedger struct {
	mu       sync.RWMutex
	attempts map[string]*Attempt
}

// NewMemoryLedger creates a new in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{attempts: make(map[string]*Attempt)}
}

// Save stores a clone of the attempt.
func (l *MemoryLedger) Save(_ context.Context, a *Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[a.ID] = a.Clone()
	return nil
}

// Get returns a clone of the attempt.
func (l *MemoryLedger) Get(_ context.Context, id string) (*Attempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return a.Clone(), nil
}

// ListActive returns clones of all non-terminal attempts.
func (l *MemoryLedger) ListActive(_ context.Context) ([]*Attempt, error) {
	l.mu.RLock()
	result := make([]*Attempt, 0, len(l.attempts))
	for _, a := range l.attempts {
		if !a.IsTerminal() {
			result = append(result, a.Clone())
		}
	}
	l.mu.RUnlock()
	sortByCreation(result)
	return result, nil
}

func sortByCreation(attempts []*Attempt) {
	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].CreatedAt.Before(attempts[j].CreatedAt)
	})
}
