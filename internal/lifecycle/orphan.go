// Package lifecycle trims and deletes stored clips and keeps the provider
// free of assets no record points at anymore.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const orphanKey = "clipvault:orphans"

// Orphan is a provider asset that must be deleted because no record
// references it anymore.
type Orphan struct {
	AssetID    string    `json:"assetId"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	LastError  string    `json:"lastError,omitempty"`
}

// OrphanQueue is a FIFO of pending asset deletions.
type OrphanQueue interface {
	Enqueue(ctx context.Context, o Orphan) error
	// Dequeue pops the oldest entry, or returns nil when the queue is empty.
	Dequeue(ctx context.Context) (*Orphan, error)
	Len(ctx context.Context) (int64, error)
}

// Compile-time check that MemoryOrphanQueue implements OrphanQueue.
var _ OrphanQueue = (*MemoryOrphanQueue)(nil)

// MemoryOrphanQueue keeps orphans in process memory.
type MemoryOrphanQueue struct {
	mu    sync.Mutex
	items []Orphan
}

// NewMemoryOrphanQueue creates an empty queue.
func NewMemoryOrphanQueue() *MemoryOrphanQueue {
	return &MemoryOrphanQueue{}
}

func (q *MemoryOrphanQueue) Enqueue(_ context.Context, o Orphan) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, o)
	return nil
}

func (q *MemoryOrphanQueue) Dequeue(_ context.Context) (*Orphan, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	o := q.items[0]
	q.items = q.items[1:]
	return &o, nil
}

func (q *MemoryOrphanQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Compile-time check that RedisOrphanQueue implements OrphanQueue.
var _ OrphanQueue = (*RedisOrphanQueue)(nil)

// RedisOrphanQueue keeps orphans in a Redis list so they survive restarts.
type RedisOrphanQueue struct {
	client goredis.UniversalClient
	key    string
}

// NewRedisOrphanQueue creates a queue stored under the default key.
func NewRedisOrphanQueue(client goredis.UniversalClient) *RedisOrphanQueue {
	return &RedisOrphanQueue{client: client, key: orphanKey}
}

func (q *RedisOrphanQueue) Enqueue(ctx context.Context, o Orphan) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("lifecycle: marshal orphan: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("lifecycle: enqueue orphan: %w", err)
	}
	return nil
}

func (q *RedisOrphanQueue) Dequeue(ctx context.Context) (*Orphan, error) {
	raw, err := q.client.RPop(ctx, q.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: dequeue orphan: %w", err)
	}
	var o Orphan
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("lifecycle: decode orphan: %w", err)
	}
	return &o, nil
}

func (q *RedisOrphanQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("lifecycle: orphan queue length: %w", err)
	}
	return n, nil
}

// EnqueueOrphan records assetID for background deletion. Failures are
// logged; the asset is then leaked.
func EnqueueOrphan(ctx context.Context, q OrphanQueue, logger *slog.Logger, assetID, reason string) {
	if assetID == "" {
		return
	}
	o := Orphan{AssetID: assetID, Reason: reason, EnqueuedAt: time.Now().UTC()}
	if err := q.Enqueue(context.WithoutCancel(ctx), o); err != nil {
		logger.Error("failed to queue orphaned asset; asset leaked",
			slog.String("asset_id", assetID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("orphaned asset queued for deletion",
		slog.String("asset_id", assetID),
		slog.String("reason", reason),
	)
}
