package stream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/clipvault-api/internal/auth"
	"github.com/maauso/clipvault-api/internal/upstream"
)

// rotatingSource refreshes "old" to "new".
type rotatingSource struct {
	token     string
	refreshes atomic.Int32
}

func (s *rotatingSource) Credential(context.Context) (auth.Credential, error) {
	return auth.Credential{AccessToken: s.token}, nil
}

func (s *rotatingSource) Refresh(context.Context, auth.Credential) (auth.Credential, error) {
	s.refreshes.Add(1)
	s.token = "new"
	return auth.Credential{AccessToken: s.token, Version: 1}, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc, source upstream.CredentialSource) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient("acct", source, WithBaseURL(server.URL))
	require.NoError(t, err)
	return c
}

func writeResult(w http.ResponseWriter, result any) {
	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"errors":  []any{},
		"result":  json.RawMessage(raw),
	})
}

func TestNewClient_RequiresAccount(t *testing.T) {
	_, err := NewClient("", upstream.NewStaticSource("tok"))
	assert.ErrorIs(t, err, ErrAccountIDRequired)
}

func TestUploadAsset_RebuildsBodyAfterRefresh(t *testing.T) {
	var calls atomic.Int32
	source := &rotatingSource{token: "old"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/accounts/acct/stream", r.URL.Path)
		if r.Header.Get("Authorization") == "Bearer old" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)

		assert.Equal(t, "clip.mp4", header.Filename)
		assert.Equal(t, "video-bytes", string(content))
		writeResult(w, map[string]string{"uid": "asset-1"})
	}, source)

	media := strings.NewReader("video-bytes")
	uid, err := c.UploadAsset(context.Background(), "clip.mp4", media, media.Size())
	require.NoError(t, err)

	assert.Equal(t, "asset-1", uid)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), source.refreshes.Load())
}

func TestCreateDerivedAsset(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/accounts/acct/stream/clip", r.URL.Path)

		var req clipRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "src", req.ClippedFromVideoUID)
		assert.Equal(t, 5.0, req.StartTimeSeconds)
		assert.Equal(t, 20.0, req.EndTimeSeconds)
		assert.Equal(t, "abc", req.Meta.Name)
		writeResult(w, map[string]string{"uid": "derived"})
	}, upstream.NewStaticSource("tok"))

	uid, err := c.CreateDerivedAsset(context.Background(), "src", 5, 20, AssetMeta{Name: "abc", CreatorName: "me"})
	require.NoError(t, err)
	assert.Equal(t, "derived", uid)
}

func TestCreateDerivedAsset_InvalidRange(t *testing.T) {
	c, _ := NewClient("acct", upstream.NewStaticSource("tok"))

	_, err := c.CreateDerivedAsset(context.Background(), "src", 20, 5, AssetMeta{})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestCall_RejectedEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"errors":[{"code":10005,"message":"clip too short"}],"result":null}`))
	}, upstream.NewStaticSource("tok"))

	_, err := c.CreateDerivedAsset(context.Background(), "src", 0, 12, AssetMeta{})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "clip too short")
}

func TestDeleteAsset(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"deleted", http.StatusOK, false},
		{"already gone", http.StatusNotFound, false},
		{"provider down", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, "/accounts/acct/stream/asset-1", r.URL.Path)
				w.WriteHeader(tt.status)
			}, upstream.NewStaticSource("tok"))

			err := c.DeleteAsset(context.Background(), "asset-1")
			if tt.wantErr {
				assert.ErrorIs(t, err, upstream.ErrRequestFailed)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequestDownloadURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acct/stream/asset-1/downloads", r.URL.Path)
		writeResult(w, map[string]any{"default": map[string]any{
			"status": "ready", "url": "https://cdn/asset-1.mp4", "percentComplete": 100,
		}})
	}, upstream.NewStaticSource("tok"))

	dl, err := c.RequestDownloadURL(context.Background(), "asset-1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/asset-1.mp4", dl.URL)
	assert.Equal(t, "ready", dl.Status)
}

func TestAnnotate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/acct/stream/asset-1", r.URL.Path)
		var req annotateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "streamer", req.Creator)
		writeResult(w, map[string]string{"uid": "asset-1"})
	}, upstream.NewStaticSource("tok"))

	require.NoError(t, c.Annotate(context.Background(), "asset-1", "streamer"))
}

func TestStaticToken_RejectedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}, upstream.NewStaticSource("tok"))

	err := c.DeleteAsset(context.Background(), "asset-1")
	assert.ErrorIs(t, err, auth.ErrRefreshFailed)
	assert.Equal(t, int32(1), calls.Load())
}
