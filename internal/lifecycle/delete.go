package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/clipvault-api/internal/clip"
	"github.com/maauso/clipvault-api/internal/metrics"
)

// ErrPartialFailure is returned when the record was deleted but the
// provider asset was not. The asset is queued for background deletion.
var ErrPartialFailure = errors.New("lifecycle: record deleted but asset deletion failed")

// Reconciler deletes clips: the record first, then the provider asset.
type Reconciler struct {
	clips         clip.Store
	locks         *clip.KeyedMutex
	deleter       AssetDeleter
	orphans       OrphanQueue
	logger        *slog.Logger
	deleteTimeout time.Duration
}

// NewReconciler creates a Reconciler.
func NewReconciler(clips clip.Store, locks *clip.KeyedMutex, deleter AssetDeleter, orphans OrphanQueue, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		clips:         clips,
		locks:         locks,
		deleter:       deleter,
		orphans:       orphans,
		logger:        logger,
		deleteTimeout: 30 * time.Second,
	}
}

// Delete removes the record and then its asset. Once the record is gone it
// stays gone, even if the asset deletion fails.
func (r *Reconciler) Delete(ctx context.Context, clipName string) error {
	unlock := r.locks.Lock(clipName)
	defer unlock()

	c, err := r.clips.Get(ctx, clipName)
	if err != nil {
		return err
	}

	n, err := r.clips.Delete(ctx, clipName)
	if err != nil {
		return fmt.Errorf("lifecycle: delete record %s: %w", clipName, err)
	}
	if n == 0 {
		return clip.ErrNotFound
	}

	if c.ContentID == "" {
		// Provisional record; a late upload is orphaned by the pipeline.
		metrics.LifecycleOpsTotal.WithLabelValues("delete", "ok").Inc()
		return nil
	}

	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.deleteTimeout)
	defer cancel()
	if err := r.deleter.DeleteAsset(delCtx, c.ContentID); err != nil {
		metrics.LifecycleOpsTotal.WithLabelValues("delete", "partial_failure").Inc()
		r.logger.Warn("asset deletion failed after record removal",
			slog.String("clip_name", clipName),
			slog.String("asset_id", c.ContentID),
			slog.String("error", err.Error()),
		)
		EnqueueOrphan(ctx, r.orphans, r.logger, c.ContentID, "delete: "+clipName)
		return fmt.Errorf("%w: %w", ErrPartialFailure, err)
	}

	metrics.LifecycleOpsTotal.WithLabelValues("delete", "ok").Inc()
	r.logger.Info("clip deleted",
		slog.String("clip_name", clipName),
		slog.String("asset_id", c.ContentID),
	)
	return nil
}
