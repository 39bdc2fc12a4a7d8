// Package stream is the client of the cloud video-storage provider: upload,
// server-side clipping, deletion, download renditions and metadata.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/maauso/clipvault-api/internal/auth"
	"github.com/maauso/clipvault-api/internal/upstream"
)

const defaultBaseURL = "https://api.cloudflare.com/client/v4"

// Static errors for provider operations.
var (
	// ErrAccountIDRequired is returned when the provider account id is not provided.
	ErrAccountIDRequired = errors.New("stream: account ID is required")
	// ErrAssetIDRequired is returned when an operation is given no asset id.
	ErrAssetIDRequired = errors.New("stream: asset ID is required")
	// ErrRejected is returned when the provider answers success=false.
	ErrRejected = errors.New("stream: provider rejected request")
	// ErrNoAssetReturned is returned when a create response carries no uid.
	ErrNoAssetReturned = errors.New("stream: no asset ID returned")
	// ErrInvalidRange is returned for a derived asset range that is empty or negative.
	ErrInvalidRange = errors.New("stream: invalid time range")
)

// Client defines the provider operations used by the pipeline and lifecycle.
type Client interface {
	// UploadAsset uploads media of the given size and returns the new asset id.
	UploadAsset(ctx context.Context, name string, media io.ReaderAt, size int64) (string, error)

	// CreateDerivedAsset clips [start, end] seconds out of sourceID.
	CreateDerivedAsset(ctx context.Context, sourceID string, start, end float64, meta AssetMeta) (string, error)

	// DeleteAsset removes an asset. Deleting a missing asset succeeds.
	DeleteAsset(ctx context.Context, assetID string) error

	// RequestDownloadURL asks for the downloadable rendition of an asset.
	RequestDownloadURL(ctx context.Context, assetID string) (Download, error)

	// Annotate records the creator on the asset.
	Annotate(ctx context.Context, assetID, creator string) error
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	accountID string
	baseURL   string
	upstream  *upstream.Client
	source    upstream.CredentialSource
	logger    *slog.Logger
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithBaseURL sets a custom base URL for the provider API.
func WithBaseURL(u string) ClientOption {
	return func(c *HTTPClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithUpstream sets the refresh-aware client used for every call.
func WithUpstream(u *upstream.Client) ClientOption {
	return func(c *HTTPClient) {
		c.upstream = u
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *HTTPClient) {
		c.logger = l
	}
}

// NewClient creates a provider client for accountID authenticating with source.
func NewClient(accountID string, source upstream.CredentialSource, opts ...ClientOption) (*HTTPClient, error) {
	if accountID == "" {
		return nil, ErrAccountIDRequired
	}
	c := &HTTPClient{
		accountID: accountID,
		baseURL:   defaultBaseURL,
		source:    source,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.upstream == nil {
		c.upstream = upstream.NewClient(upstream.WithLogger(c.logger))
	}
	return c, nil
}

// UploadAsset sends media as a multipart "file" field. The body is rebuilt
// from media for the retry after a credential refresh.
func (c *HTTPClient) UploadAsset(ctx context.Context, name string, media io.ReaderAt, size int64) (string, error) {
	head, tail, contentType, err := multipartFrame(name)
	if err != nil {
		return "", err
	}

	build := func(ctx context.Context, cred auth.Credential) (*http.Request, error) {
		body := io.MultiReader(
			bytes.NewReader(head),
			io.NewSectionReader(media, 0, size),
			bytes.NewReader(tail),
		)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(""), body)
		if err != nil {
			return nil, err
		}
		req.ContentLength = int64(len(head)) + size + int64(len(tail))
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", upstream.Bearer(cred))
		return req, nil
	}

	var res assetResult
	if err := c.call(ctx, build, &res); err != nil {
		return "", fmt.Errorf("stream: upload %s: %w", name, err)
	}
	if res.UID == "" {
		return "", ErrNoAssetReturned
	}
	c.logger.Info("asset uploaded", slog.String("asset_id", res.UID), slog.Int64("bytes", size))
	return res.UID, nil
}

// CreateDerivedAsset asks the provider to clip an existing asset.
func (c *HTTPClient) CreateDerivedAsset(ctx context.Context, sourceID string, start, end float64, meta AssetMeta) (string, error) {
	if sourceID == "" {
		return "", ErrAssetIDRequired
	}
	if start < 0 || end <= start {
		return "", ErrInvalidRange
	}

	payload, err := json.Marshal(clipRequest{
		ClippedFromVideoUID: sourceID,
		StartTimeSeconds:    start,
		EndTimeSeconds:      end,
		Meta:                meta,
	})
	if err != nil {
		return "", fmt.Errorf("stream: marshal clip request: %w", err)
	}

	var res assetResult
	if err := c.call(ctx, c.jsonRequest(http.MethodPost, c.url("/clip"), payload), &res); err != nil {
		return "", fmt.Errorf("stream: clip %s: %w", sourceID, err)
	}
	if res.UID == "" {
		return "", ErrNoAssetReturned
	}
	return res.UID, nil
}

// DeleteAsset removes an asset. A 404 means it is already gone.
func (c *HTTPClient) DeleteAsset(ctx context.Context, assetID string) error {
	if assetID == "" {
		return ErrAssetIDRequired
	}
	err := c.call(ctx, c.jsonRequest(http.MethodDelete, c.url("/"+assetID), nil), nil)
	var se *upstream.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		c.logger.Debug("asset already deleted", slog.String("asset_id", assetID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("stream: delete %s: %w", assetID, err)
	}
	return nil
}

// RequestDownloadURL enables and returns the default download rendition.
func (c *HTTPClient) RequestDownloadURL(ctx context.Context, assetID string) (Download, error) {
	if assetID == "" {
		return Download{}, ErrAssetIDRequired
	}
	var res downloadsResult
	if err := c.call(ctx, c.jsonRequest(http.MethodPost, c.url("/"+assetID+"/downloads"), nil), &res); err != nil {
		return Download{}, fmt.Errorf("stream: downloads %s: %w", assetID, err)
	}
	return res.Default, nil
}

// Annotate stores the creator on the asset.
func (c *HTTPClient) Annotate(ctx context.Context, assetID, creator string) error {
	if assetID == "" {
		return ErrAssetIDRequired
	}
	payload, err := json.Marshal(annotateRequest{Creator: creator})
	if err != nil {
		return fmt.Errorf("stream: marshal annotate request: %w", err)
	}
	if err := c.call(ctx, c.jsonRequest(http.MethodPost, c.url("/"+assetID), payload), nil); err != nil {
		return fmt.Errorf("stream: annotate %s: %w", assetID, err)
	}
	return nil
}

func (c *HTTPClient) url(suffix string) string {
	return fmt.Sprintf("%s/accounts/%s/stream%s", c.baseURL, c.accountID, suffix)
}

func (c *HTTPClient) jsonRequest(method, url string, payload []byte) upstream.RequestFunc {
	return func(ctx context.Context, cred auth.Credential) (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Authorization", upstream.Bearer(cred))
		return req, nil
	}
}

// call runs the request and unwraps the provider envelope into result.
func (c *HTTPClient) call(ctx context.Context, build upstream.RequestFunc, result any) error {
	var env envelope
	if err := c.upstream.DoJSON(ctx, c.source, build, &env); err != nil {
		return err
	}
	// DELETE answers with an empty body on success.
	if env.Result == nil && len(env.Errors) == 0 {
		return nil
	}
	if !env.Success {
		return fmt.Errorf("%w: %s", ErrRejected, env.errorText())
	}
	if result != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("stream: decode result: %w", err)
		}
	}
	return nil
}

// multipartFrame renders the bytes surrounding the file content of a
// single-field multipart body.
func multipartFrame(name string) (head, tail []byte, contentType string, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if _, err := mw.CreateFormFile("file", name); err != nil {
		return nil, nil, "", fmt.Errorf("stream: multipart header: %w", err)
	}
	headLen := buf.Len()
	if err := mw.Close(); err != nil {
		return nil, nil, "", fmt.Errorf("stream: multipart trailer: %w", err)
	}
	all := buf.Bytes()
	return all[:headLen:headLen], all[headLen:], mw.FormDataContentType(), nil
}
