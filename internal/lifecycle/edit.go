package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maauso/clipvault-api/internal/clip"
	"github.com/maauso/clipvault-api/internal/metrics"
)

// MaxTitleLength is the longest accepted clip title, in characters.
const MaxTitleLength = 140

// ErrInvalidTitle is returned when a title is blank or too long.
var ErrInvalidTitle = errors.New("lifecycle: clip title must be between 1 and 140 characters")

// Editor updates the user-editable metadata of stored clips.
type Editor struct {
	clips  clip.Store
	locks  *clip.KeyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// NewEditor creates an Editor.
func NewEditor(clips clip.Store, locks *clip.KeyedMutex, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{
		clips:  clips,
		locks:  locks,
		logger: logger,
		now:    time.Now,
	}
}

// Rename sets the title of a clip and stamps its last-edited time. The asset
// is not touched, so provisional clips can be renamed too.
func (e *Editor) Rename(ctx context.Context, clipName, title string) (*clip.Clip, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, ErrInvalidTitle
	}

	unlock := e.locks.Lock(clipName)
	defer unlock()

	edited := e.now().UTC()
	updated, err := e.clips.UpdateIfExists(ctx, clipName, clip.Patch{
		ContentName:    &title,
		ClipLastEdited: &edited,
	})
	if err != nil {
		if errors.Is(err, clip.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lifecycle: rename %s: %w", clipName, err)
	}

	metrics.LifecycleOpsTotal.WithLabelValues("edit", "ok").Inc()
	e.logger.Info("clip renamed",
		slog.String("clip_name", clipName),
		slog.Int64("version", updated.Version),
	)
	return updated, nil
}
