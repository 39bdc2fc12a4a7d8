package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	attemptKeyPrefix = "clipvault:ingest:attempt:"
	activeSetKey     = "clipvault:ingest:active"
	// finishedTTL keeps terminal attempts around for inspection.
	finishedTTL = 7 * 24 * time.Hour
)

// Compile-time check that RedisLedger implements Ledger.
var _ Ledger = (*RedisLedger)(nil)

// RedisLedger stores attempts as JSON strings and tracks non-terminal ones
// in a set.
type RedisLedger struct {
	client goredis.UniversalClient
}

// NewRedisLedger creates a ledger backed by client.
func NewRedisLedger(client goredis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client}
}

// Save writes the attempt and updates the active set in one transaction.
func (l *RedisLedger) Save(ctx context.Context, a *Attempt) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("ingest: marshal attempt: %w", err)
	}

	key := attemptKeyPrefix + a.ID
	_, err = l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if a.IsTerminal() {
			pipe.Set(ctx, key, raw, finishedTTL)
			pipe.SRem(ctx, activeSetKey, a.ID)
		} else {
			pipe.Set(ctx, key, raw, 0)
			pipe.SAdd(ctx, activeSetKey, a.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ingest: save attempt %s: %w", a.ID, err)
	}
	return nil
}

// Get loads one attempt.
func (l *RedisLedger) Get(ctx context.Context, id string) (*Attempt, error) {
	raw, err := l.client.Get(ctx, attemptKeyPrefix+id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: get attempt %s: %w", id, err)
	}
	var a Attempt
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("ingest: decode attempt %s: %w", id, err)
	}
	return &a, nil
}

// ListActive loads every attempt in the active set. Ids whose record is
// missing are dropped from the set.
func (l *RedisLedger) ListActive(ctx context.Context) ([]*Attempt, error) {
	ids, err := l.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ingest: list active attempts: %w", err)
	}

	result := make([]*Attempt, 0, len(ids))
	for _, id := range ids {
		a, err := l.Get(ctx, id)
		if errors.Is(err, ErrAttemptNotFound) {
			l.client.SRem(ctx, activeSetKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !a.IsTerminal() {
			result = append(result, a)
		}
	}
	sortByCreation(result)
	return result, nil
}
