package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/clipvault-api/internal/auth"
)

// countingSource hands out numbered credentials and counts refreshes.
type countingSource struct {
	current    auth.Credential
	refreshes  atomic.Int32
	refreshErr error
}

func (s *countingSource) Credential(context.Context) (auth.Credential, error) {
	return s.current, nil
}

func (s *countingSource) Refresh(_ context.Context, stale auth.Credential) (auth.Credential, error) {
	s.refreshes.Add(1)
	if s.refreshErr != nil {
		return auth.Credential{}, s.refreshErr
	}
	s.current = auth.Credential{AccessToken: stale.AccessToken + "+", Version: stale.Version + 1}
	return s.current, nil
}

func getRequest(url string) RequestFunc {
	return func(ctx context.Context, cred auth.Credential) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", Bearer(cred))
		return req, nil
	}
}

func TestClient_Do_Success(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	src := &countingSource{current: auth.Credential{AccessToken: "tok", Version: 1}}
	resp, err := NewClient().Do(context.Background(), src, getRequest(server.URL))
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(0), src.refreshes.Load())
}

func TestClient_Do_RefreshesOnceOn401(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") == "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer tok+", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	src := &countingSource{current: auth.Credential{AccessToken: "tok", Version: 1}}
	resp, err := NewClient().Do(context.Background(), src, getRequest(server.URL))
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), src.refreshes.Load())
	assert.Equal(t, int64(2), src.current.Version)
}

func TestClient_Do_AtMostTwoAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	src := &countingSource{current: auth.Credential{AccessToken: "tok"}}
	_, err := NewClient().Do(context.Background(), src, getRequest(server.URL))

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), src.refreshes.Load())
}

func TestClient_Do_RefreshFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	src := &countingSource{current: auth.Credential{AccessToken: "tok"}, refreshErr: errors.New("invalid refresh token")}
	_, err := NewClient().Do(context.Background(), src, getRequest(server.URL))

	assert.ErrorIs(t, err, auth.ErrRefreshFailed)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Do_OtherStatusesNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusInternalServerError, http.StatusTooManyRequests} {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		src := &countingSource{current: auth.Credential{AccessToken: "tok"}}
		resp, err := NewClient().Do(context.Background(), src, getRequest(server.URL))
		require.NoError(t, err)
		_ = resp.Body.Close()

		assert.Equal(t, status, resp.StatusCode)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, int32(0), src.refreshes.Load())
		server.Close()
	}
}

func TestClient_DoJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("gateway down"))
			return
		}
		_, _ = w.Write([]byte(`{"value":"ok"}`))
	}))
	defer server.Close()

	c := NewClient()
	src := NewStaticSource("tok")

	var out struct {
		Value string `json:"value"`
	}
	require.NoError(t, c.DoJSON(context.Background(), src, getRequest(server.URL+"/good"), &out))
	assert.Equal(t, "ok", out.Value)

	err := c.DoJSON(context.Background(), src, getRequest(server.URL+"/bad"), &out)
	assert.ErrorIs(t, err, ErrRequestFailed)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, "gateway down", se.Body)
}

func TestStaticSource_RefreshFails(t *testing.T) {
	_, err := NewStaticSource("tok").Refresh(context.Background(), auth.Credential{})
	assert.ErrorIs(t, err, auth.ErrRefreshFailed)
}
