// Package capture clips the running broadcast through the capture worker,
// acting with the requesting user's Twitch credential, and stores the result
// as a ready clip record.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maauso/clipvault-api/internal/auth"
	"github.com/maauso/clipvault-api/internal/clip"
	"github.com/maauso/clipvault-api/internal/lifecycle"
	"github.com/maauso/clipvault-api/internal/metrics"
	"github.com/maauso/clipvault-api/internal/upstream"
)

// LiveClipDuration is the length in seconds of every capture.
const LiveClipDuration = 90.0

var (
	// ErrBaseURLRequired is returned when the capture worker URL is not provided.
	ErrBaseURLRequired = errors.New("capture: base URL is required")
	// ErrEmptyResponse is returned when the worker answers without a clip.
	ErrEmptyResponse = errors.New("capture: worker returned no clip")
)

// Requester identifies the user a capture is made for.
type Requester struct {
	ID          int64
	DisplayName string
}

// SourceFunc returns the credential source acting for one user.
type SourceFunc func(userID int64) upstream.CredentialSource

// UserSources adapts an Authority to a SourceFunc.
func UserSources(a *auth.Authority) SourceFunc {
	return func(userID int64) upstream.CredentialSource {
		return a.ForUser(userID)
	}
}

// Service creates live clips.
type Service struct {
	baseURL string
	api     *upstream.Client
	sources SourceFunc
	clips   clip.Store
	locks   *clip.KeyedMutex
	orphans lifecycle.OrphanQueue
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a capture Service for the worker at baseURL.
func NewService(baseURL string, api *upstream.Client, sources SourceFunc, clips clip.Store,
	locks *clip.KeyedMutex, orphans lifecycle.OrphanQueue, logger *slog.Logger,
) (*Service, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		baseURL: strings.TrimRight(baseURL, "/"),
		api:     api,
		sources: sources,
		clips:   clips,
		locks:   locks,
		orphans: orphans,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Capture asks the worker to clip the live broadcast on behalf of user and
// stores the record. created is false when a record with the same clip name
// already existed; the worker's new asset is then queued for deletion.
func (s *Service) Capture(ctx context.Context, user Requester) (c *clip.Clip, created bool, err error) {
	var resp getClipResponse
	err = s.api.DoJSON(ctx, s.sources(user.ID), func(ctx context.Context, cred auth.Credential) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/getClip", nil)
		if err != nil {
			return nil, err
		}
		// The worker expects the bare user token, not a Bearer value.
		req.Header.Set("Authorization", cred.AccessToken)
		req.Header.Set("creatorName", url.PathEscape(user.DisplayName))
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, &resp)
	if err != nil {
		metrics.LifecycleOpsTotal.WithLabelValues("capture", "upstream_failure").Inc()
		return nil, false, fmt.Errorf("capture: request clip for user %d: %w", user.ID, err)
	}
	if resp.ClipName == "" || resp.URL.UID == "" {
		metrics.LifecycleOpsTotal.WithLabelValues("capture", "upstream_failure").Inc()
		return nil, false, ErrEmptyResponse
	}

	record := resp.record(user, s.now().UTC())

	unlock := s.locks.Lock(record.ClipName)
	defer unlock()

	if err := s.clips.Create(ctx, record); err != nil {
		if errors.Is(err, clip.ErrAlreadyExists) {
			existing, gerr := s.clips.Get(ctx, record.ClipName)
			if gerr == nil {
				if existing.ContentID != record.ContentID {
					lifecycle.EnqueueOrphan(ctx, s.orphans, s.logger, record.ContentID, "capture: duplicate clip name")
				}
				metrics.LifecycleOpsTotal.WithLabelValues("capture", "duplicate").Inc()
				return existing, false, nil
			}
			err = gerr
		}
		lifecycle.EnqueueOrphan(ctx, s.orphans, s.logger, record.ContentID, "capture: record not stored")
		return nil, false, fmt.Errorf("capture: store clip %s: %w", record.ClipName, err)
	}

	metrics.LifecycleOpsTotal.WithLabelValues("capture", "ok").Inc()
	s.logger.Info("live clip captured",
		slog.String("clip_name", record.ClipName),
		slog.String("content_id", record.ContentID),
		slog.Int64("creator_id", user.ID),
	)
	return record.Clone(), true, nil
}
