package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultIdentityURL = "https://id.twitch.tv"
	tokenPath          = "/oauth2/token"
)

var (
	// ErrClientIDRequired is returned when no OAuth client id is configured.
	ErrClientIDRequired = errors.New("auth: client id is required")
	// ErrClientSecretRequired is returned when no OAuth client secret is configured.
	ErrClientSecretRequired = errors.New("auth: client secret is required")
	// ErrGrantRejected is returned when the identity provider refuses a grant.
	ErrGrantRejected = errors.New("auth: grant rejected")
)

// TokenPair is the result of a refresh-token grant.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// IdentityProvider performs OAuth grants.
type IdentityProvider interface {
	RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error)
	ClientCredentials(ctx context.Context) (Token, error)
}

// tokenResponse is the OAuth token endpoint payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Compile-time check that IdentityClient implements IdentityProvider.
var _ IdentityProvider = (*IdentityClient)(nil)

// IdentityClient talks to the OAuth token endpoint of the identity provider.
type IdentityClient struct {
	clientID     string
	clientSecret string
	baseURL      string
	httpClient   *http.Client
	now          func() time.Time
}

// IdentityOption configures an IdentityClient.
type IdentityOption func(*IdentityClient)

// WithIdentityURL overrides the identity provider base URL.
func WithIdentityURL(u string) IdentityOption {
	return func(c *IdentityClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithIdentityHTTPClient sets a custom HTTP client.
func WithIdentityHTTPClient(hc *http.Client) IdentityOption {
	return func(c *IdentityClient) {
		c.httpClient = hc
	}
}

// NewIdentityClient creates a client for the OAuth token endpoint.
func NewIdentityClient(clientID, clientSecret string, opts ...IdentityOption) (*IdentityClient, error) {
	if clientID == "" {
		return nil, ErrClientIDRequired
	}
	if clientSecret == "" {
		return nil, ErrClientSecretRequired
	}
	c := &IdentityClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultIdentityURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ClientID returns the OAuth client id, needed as a header by provider APIs.
func (c *IdentityClient) ClientID() string {
	return c.clientID
}

// RefreshToken exchanges a refresh token for a new token pair.
func (c *IdentityClient) RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	resp, err := c.grant(ctx, form)
	if err != nil {
		return TokenPair{}, err
	}
	if resp.RefreshToken == "" {
		return TokenPair{}, fmt.Errorf("%w: response carried no refresh token", ErrGrantRejected)
	}
	return TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}

// ClientCredentials obtains an app access token.
func (c *IdentityClient) ClientCredentials(ctx context.Context) (Token, error) {
	resp, err := c.grant(ctx, url.Values{"grant_type": {"client_credentials"}})
	if err != nil {
		return Token{}, err
	}
	return Token{
		AccessToken: resp.AccessToken,
		ExpiresAt:   c.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

func (c *IdentityClient) grant(ctx context.Context, form url.Values) (*tokenResponse, error) {
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("auth: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("auth: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrGrantRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("auth: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: response carried no access token", ErrGrantRejected)
	}
	return &tr, nil
}
