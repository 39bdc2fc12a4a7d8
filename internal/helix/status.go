package helix

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maauso/clipvault-api/internal/upstream"
)

// Mode selects which credential a status lookup uses.
type Mode string

const (
	// ModeUser reads the stream with the stored credential of a service user.
	ModeUser Mode = "user"
	// ModeApp reads the stream with an app access token.
	ModeApp Mode = "app"
)

// ErrUnknownMode is returned for modes other than user and app.
var ErrUnknownMode = errors.New("helix: unknown status mode")

// State is the coarse broadcast state.
type State string

const (
	StateOnline  State = "online"
	StateOffline State = "offline"
	StateUnknown State = "unknown"
)

// Status is the broadcaster status reported to callers.
type Status struct {
	State  State   `json:"status"`
	Stream *Stream `json:"stream,omitempty"`
}

// StatusService reports whether the configured broadcaster is live.
type StatusService struct {
	client        *Client
	userSource    upstream.CredentialSource
	appSource     upstream.CredentialSource
	broadcasterID string
	logger        *slog.Logger
}

// NewStatusService creates a StatusService. userSource backs ModeUser and
// appSource backs ModeApp.
func NewStatusService(client *Client, userSource, appSource upstream.CredentialSource, broadcasterID string, logger *slog.Logger) *StatusService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusService{
		client:        client,
		userSource:    userSource,
		appSource:     appSource,
		broadcasterID: broadcasterID,
		logger:        logger,
	}
}

// Status looks up the broadcaster. Upstream failures, including a rejected
// refresh, are reported as StateUnknown rather than as errors.
func (s *StatusService) Status(ctx context.Context, mode Mode) (Status, error) {
	var source upstream.CredentialSource
	switch mode {
	case ModeUser, "":
		source = s.userSource
	case ModeApp:
		source = s.appSource
	default:
		return Status{}, ErrUnknownMode
	}

	stream, err := s.client.LiveStream(ctx, source, s.broadcasterID)
	if err != nil {
		s.logger.Warn("stream status lookup failed",
			slog.String("mode", string(mode)),
			slog.String("broadcaster_id", s.broadcasterID),
			slog.String("error", err.Error()),
		)
		return Status{State: StateUnknown}, nil
	}
	if stream == nil {
		return Status{State: StateOffline}, nil
	}
	return Status{State: StateOnline, Stream: stream}, nil
}
