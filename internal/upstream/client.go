// Package upstream sends bearer-authenticated requests to external APIs.
// A 401 response triggers one credential refresh and exactly one retry.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maauso/clipvault-api/internal/auth"
	"github.com/maauso/clipvault-api/internal/metrics"
)

var (
	// ErrUnauthorized is returned when the request is rejected with 401 even
	// after the credential was refreshed.
	ErrUnauthorized = errors.New("upstream: unauthorized after credential refresh")
	// ErrRequestFailed is returned for non-2xx responses decoded by DoJSON.
	ErrRequestFailed = errors.New("upstream: request failed")
)

// CredentialSource supplies the credential a request is built with.
type CredentialSource interface {
	Credential(ctx context.Context) (auth.Credential, error)
	Refresh(ctx context.Context, stale auth.Credential) (auth.Credential, error)
}

// RequestFunc builds a fresh request for one attempt. It is called at most
// twice per Do and must not reuse a consumed body.
type RequestFunc func(ctx context.Context, cred auth.Credential) (*http.Request, error)

// StatusError carries the status and body of a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: status %d: %s", e.StatusCode, e.Body)
}

// Unwrap makes errors.Is(err, ErrRequestFailed) hold.
func (e *StatusError) Unwrap() error {
	return ErrRequestFailed
}

// Client executes requests with refresh-once semantics.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends the request built by build. Only a 401 response is retried, once,
// after source refreshed the credential. Any other response is returned to
// the caller, who owns closing its body.
func (c *Client) Do(ctx context.Context, source CredentialSource, build RequestFunc) (*http.Response, error) {
	cred, err := source.Credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("upstream: load credential: %w", err)
	}

	resp, err := c.send(ctx, cred, build)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	discard(resp)

	c.logger.Info("upstream rejected credential, refreshing",
		slog.String("url", resp.Request.URL.Redacted()),
		slog.Int64("credential_version", cred.Version),
	)

	fresh, err := source.Refresh(ctx, cred)
	if err != nil {
		metrics.CredentialRefreshesTotal.WithLabelValues("failed").Inc()
		if !errors.Is(err, auth.ErrRefreshFailed) {
			err = fmt.Errorf("%w: %w", auth.ErrRefreshFailed, err)
		}
		return nil, err
	}
	metrics.CredentialRefreshesTotal.WithLabelValues("refreshed").Inc()

	resp, err = c.send(ctx, fresh, build)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		metrics.CredentialRefreshesTotal.WithLabelValues("rejected").Inc()
		return nil, ErrUnauthorized
	}
	return resp, nil
}

// DoJSON sends the request and decodes a 2xx JSON body into out (when out is
// non-nil). Non-2xx responses are returned as *StatusError.
func (c *Client) DoJSON(ctx context.Context, source CredentialSource, build RequestFunc, out any) error {
	resp, err := c.Do(ctx, source, build)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("upstream: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("upstream: decode response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, cred auth.Credential, build RequestFunc) (*http.Response, error) {
	req, err := build(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: %s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	return resp, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
