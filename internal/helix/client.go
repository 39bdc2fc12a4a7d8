// Package helix reads live-stream state from the Twitch Helix API.
package helix

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maauso/clipvault-api/internal/auth"
	"github.com/maauso/clipvault-api/internal/upstream"
)

const defaultBaseURL = "https://api.twitch.tv"

var (
	// ErrClientIDRequired is returned when no application client id is set.
	ErrClientIDRequired = errors.New("helix: client ID is required")
	// ErrUserIDRequired is returned when no broadcaster id is given.
	ErrUserIDRequired = errors.New("helix: user ID is required")
)

// Stream is one entry of the /helix/streams response.
type Stream struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UserLogin   string    `json:"user_login"`
	UserName    string    `json:"user_name"`
	GameID      string    `json:"game_id"`
	GameName    string    `json:"game_name"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
	Language    string    `json:"language"`
	Thumbnail   string    `json:"thumbnail_url"`
}

type streamsResponse struct {
	Data []Stream `json:"data"`
}

// Client calls Helix through the refresh-once upstream client.
type Client struct {
	clientID string
	baseURL  string
	upstream *upstream.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the Helix base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithUpstream sets the upstream client.
func WithUpstream(u *upstream.Client) ClientOption {
	return func(c *Client) {
		c.upstream = u
	}
}

// NewClient creates a Helix client for the application clientID.
func NewClient(clientID string, opts ...ClientOption) (*Client, error) {
	if clientID == "" {
		return nil, ErrClientIDRequired
	}
	c := &Client{clientID: clientID, baseURL: defaultBaseURL}
	for _, opt := range opts {
		opt(c)
	}
	if c.upstream == nil {
		c.upstream = upstream.NewClient(upstream.WithLogger(slog.Default()))
	}
	return c, nil
}

// LiveStream returns the current stream of userID, or nil when offline.
func (c *Client) LiveStream(ctx context.Context, source upstream.CredentialSource, userID string) (*Stream, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	endpoint := c.baseURL + "/helix/streams?" + url.Values{"user_id": {userID}}.Encode()

	var resp streamsResponse
	err := c.upstream.DoJSON(ctx, source, func(ctx context.Context, cred auth.Credential) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", upstream.Bearer(cred))
		req.Header.Set("Client-Id", c.clientID)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	return &resp.Data[0], nil
}
