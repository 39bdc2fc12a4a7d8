package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/clipvault-api/internal/clip"
	"github.com/maauso/clipvault-api/internal/metrics"
	"github.com/maauso/clipvault-api/internal/stream"
)

// MinClipLength is the shortest derived clip, in seconds.
const MinClipLength = 10.0

var (
	// ErrInvalidRange is returned when end - start is below MinClipLength.
	ErrInvalidRange = errors.New("lifecycle: clip must be at least 10 seconds long")
	// ErrNotReady is returned when the clip has no finalized asset yet.
	ErrNotReady = errors.New("lifecycle: clip is still being imported")
	// ErrUpstreamFailure is returned when the provider fails to derive the asset.
	ErrUpstreamFailure = errors.New("lifecycle: storage provider failure")
)

// Deriver creates derived assets at the provider.
type Deriver interface {
	CreateDerivedAsset(ctx context.Context, sourceID string, start, end float64, meta stream.AssetMeta) (string, error)
}

// Trimmer replaces a clip's asset with a server-side cut of it.
type Trimmer struct {
	clips   clip.Store
	locks   *clip.KeyedMutex
	deriver Deriver
	orphans OrphanQueue
	logger  *slog.Logger
	now     func() time.Time
}

// NewTrimmer creates a Trimmer.
func NewTrimmer(clips clip.Store, locks *clip.KeyedMutex, deriver Deriver, orphans OrphanQueue, logger *slog.Logger) *Trimmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trimmer{
		clips:   clips,
		locks:   locks,
		deriver: deriver,
		orphans: orphans,
		logger:  logger,
		now:     time.Now,
	}
}

// Trim cuts [start, end] seconds out of the clip's current asset. On success
// the record points at the new asset and the old one is queued for deletion.
// On failure the record is unchanged.
func (t *Trimmer) Trim(ctx context.Context, clipName string, start, end float64) error {
	if start < 0 || end-start < MinClipLength {
		return fmt.Errorf("%w: start=%.2f end=%.2f", ErrInvalidRange, start, end)
	}

	unlock := t.locks.Lock(clipName)
	defer unlock()

	c, err := t.clips.Get(ctx, clipName)
	if err != nil {
		return err
	}
	if !c.IsReady() {
		return ErrNotReady
	}

	newID, err := t.deriver.CreateDerivedAsset(ctx, c.ContentID, start, end, stream.AssetMeta{
		Name:        c.ClipName,
		CreatorName: c.CreatorName,
	})
	if err != nil {
		metrics.LifecycleOpsTotal.WithLabelValues("trim", "upstream_failure").Inc()
		return fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
	}

	duration := end - start
	edited := t.now().UTC()
	_, err = t.clips.UpdateIfExists(ctx, clipName, clip.Patch{
		ContentID:      &newID,
		ClipDuration:   &duration,
		ClipLastEdited: &edited,
	})
	if err != nil {
		// The derived asset is referenced by nothing.
		EnqueueOrphan(ctx, t.orphans, t.logger, newID, "trim: record update failed")
		return fmt.Errorf("lifecycle: update trimmed clip %s: %w", clipName, err)
	}

	EnqueueOrphan(ctx, t.orphans, t.logger, c.ContentID, "trim: replaced by "+newID)
	metrics.LifecycleOpsTotal.WithLabelValues("trim", "ok").Inc()
	t.logger.Info("clip trimmed",
		slog.String("clip_name", clipName),
		slog.String("old_asset", c.ContentID),
		slog.String("new_asset", newID),
		slog.Float64("duration", duration),
	)
	return nil
}
