// Package worker is the HTTP client of the self-hosted extraction worker,
// which resolves source URLs, downloads media into a shared directory and
// exposes its job queue.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// Static errors for worker client operations.
var (
	// ErrBaseURLRequired is returned when the worker base URL is not provided.
	ErrBaseURLRequired = errors.New("worker: base URL is required")
	// ErrSourceURLRequired is returned when no source URL is given.
	ErrSourceURLRequired = errors.New("worker: source URL is required")
	// ErrNotFound is returned when the worker cannot resolve the source URL.
	ErrNotFound = errors.New("worker: source not found")
	// ErrDownloadRejected is returned when the worker refuses a download.
	ErrDownloadRejected = errors.New("worker: download rejected")
	// ErrNoJobIDReturned is returned when a download response carries no job id.
	ErrNoJobIDReturned = errors.New("worker: download accepted but no job ID returned")
	// ErrServerError is returned when the worker returns a 5xx status code.
	ErrServerError = errors.New("worker: server error")
	// ErrRateLimited is returned when the worker returns a 429 status code.
	ErrRateLimited = errors.New("worker: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("worker: request failed")
)

// Client defines the operations the ingestion pipeline needs from the worker.
type Client interface {
	// ResolveInfo returns metadata for a source URL, or ErrNotFound.
	ResolveInfo(ctx context.Context, sourceURL string) (*Info, error)

	// SubmitDownload starts a download job and returns its opaque id.
	SubmitDownload(ctx context.Context, sourceURL string) (jobID string, err error)

	// QueueSnapshot returns the current job queue state.
	QueueSnapshot(ctx context.Context) (Snapshot, error)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	executor    failsafe.Executor[[]byte]
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a worker client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseBackoff <= 0 {
		c.baseBackoff = time.Millisecond
	}

	// Only transport failures, 5xx and 429 are retried. The last failure is
	// returned as is so callers can match the worker sentinels.
	retry := retrypolicy.NewBuilder[[]byte]().
		HandleIf(func(_ []byte, err error) bool {
			return isRetryable(err)
		}).
		WithBackoff(c.baseBackoff, 16*c.baseBackoff).
		WithMaxRetries(c.maxRetries).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		Build()
	c.executor = failsafe.With[[]byte](retry)
	return c, nil
}

// ResolveInfo asks the worker to extract metadata for sourceURL. The worker
// answers null for URLs it cannot resolve.
func (c *HTTPClient) ResolveInfo(ctx context.Context, sourceURL string) (*Info, error) {
	if sourceURL == "" {
		return nil, ErrSourceURLRequired
	}

	var info *Info
	if err := c.doRequestWithRetry(ctx, c.endpoint("/extract_info", sourceURL), &info); err != nil {
		return nil, err
	}
	if info == nil || info.ID == "" {
		return nil, ErrNotFound
	}
	return info, nil
}

// SubmitDownload asks the worker to download sourceURL and returns the id of
// the queued job.
func (c *HTTPClient) SubmitDownload(ctx context.Context, sourceURL string) (string, error) {
	if sourceURL == "" {
		return "", ErrSourceURLRequired
	}

	var resp downloadResponse
	if err := c.doRequestWithRetry(ctx, c.endpoint("/download", sourceURL), &resp); err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		if resp.Error != "" {
			return "", fmt.Errorf("%w: status %d: %s", ErrDownloadRejected, resp.StatusCode, resp.Error)
		}
		return "", fmt.Errorf("%w: status %d", ErrDownloadRejected, resp.StatusCode)
	}
	if len(resp.Downloads) == 0 || resp.Downloads[0].RedisID == "" {
		return "", ErrNoJobIDReturned
	}
	return resp.Downloads[0].RedisID, nil
}

// QueueSnapshot fetches the worker queue registries.
func (c *HTTPClient) QueueSnapshot(ctx context.Context) (Snapshot, error) {
	var resp queueResponse
	if err := c.doRequestWithRetry(ctx, c.baseURL+"/queue", &resp); err != nil {
		return Snapshot{}, err
	}
	return resp.snapshot(), nil
}

func (c *HTTPClient) endpoint(path, sourceURL string) string {
	return c.baseURL + path + "?" + url.Values{"url": {sourceURL}}.Encode()
}

// doRequestWithRetry performs a GET through the retry executor and decodes
// the final body into result.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, url string, result any) error {
	body, err := c.executor.WithContext(ctx).Get(func() ([]byte, error) {
		return c.doRequest(ctx, url)
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("worker: context cancelled: %w", ctx.Err())
		}
		return err
	}

	if result != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("worker: unmarshal response: %w", err)
		}
	}
	return nil
}

// doRequest performs a single GET request and returns the 2xx body.
func (c *HTTPClient) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("worker: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("worker: request aborted: %w", ctx.Err())
		}
		return nil, &retryableError{err: fmt.Errorf("worker: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("worker: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return nil, &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
