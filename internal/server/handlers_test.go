package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/clipvault-api/internal/auth"
	"github.com/maauso/clipvault-api/internal/capture"
	"github.com/maauso/clipvault-api/internal/clip"
	"github.com/maauso/clipvault-api/internal/helix"
	"github.com/maauso/clipvault-api/internal/ingest"
	"github.com/maauso/clipvault-api/internal/lifecycle"
	"github.com/maauso/clipvault-api/internal/stream"
)

// mockImporter implements Importer for testing.
type mockImporter struct {
	mock.Mock
}

func (m *mockImporter) Import(ctx context.Context, user ingest.Requester, sourceURL string) (ingest.ImportResult, error) {
	args := m.Called(ctx, user, sourceURL)
	return args.Get(0).(ingest.ImportResult), args.Error(1)
}

// mockLifecycle implements Trimmer and Deleter for testing.
type mockLifecycle struct {
	mock.Mock
}

func (m *mockLifecycle) Trim(ctx context.Context, clipName string, start, end float64) error {
	return m.Called(ctx, clipName, start, end).Error(0)
}

func (m *mockLifecycle) Delete(ctx context.Context, clipName string) error {
	return m.Called(ctx, clipName).Error(0)
}

func (m *mockLifecycle) Rename(ctx context.Context, clipName, title string) (*clip.Clip, error) {
	args := m.Called(ctx, clipName, title)
	c, _ := args.Get(0).(*clip.Clip)
	return c, args.Error(1)
}

// mockCapturer implements Capturer for testing.
type mockCapturer struct {
	mock.Mock
}

func (m *mockCapturer) Capture(ctx context.Context, user capture.Requester) (*clip.Clip, bool, error) {
	args := m.Called(ctx, user)
	c, _ := args.Get(0).(*clip.Clip)
	return c, args.Bool(1), args.Error(2)
}

// mockDownloads implements DownloadLinker for testing.
type mockDownloads struct {
	mock.Mock
}

func (m *mockDownloads) RequestDownloadURL(ctx context.Context, assetID string) (stream.Download, error) {
	args := m.Called(ctx, assetID)
	return args.Get(0).(stream.Download), args.Error(1)
}

// mockStatus implements StatusReporter for testing.
type mockStatus struct {
	mock.Mock
}

func (m *mockStatus) Status(ctx context.Context, mode helix.Mode) (helix.Status, error) {
	args := m.Called(ctx, mode)
	return args.Get(0).(helix.Status), args.Error(1)
}

type testEnv struct {
	router    http.Handler
	clips     *clip.MemoryStore
	users     *auth.MemoryUserStore
	sessions  *auth.SessionIssuer
	importer  *mockImporter
	lifecycle *mockLifecycle
	downloads *mockDownloads
	status    *mockStatus
	capturer  *mockCapturer
}

func newTestEnv(t *testing.T, tweaks ...func(*Services)) *testEnv {
	t.Helper()
	sessions, err := auth.NewSessionIssuer("test-secret")
	require.NoError(t, err)

	env := &testEnv{
		clips:     clip.NewMemoryStore(),
		users:     auth.NewMemoryUserStore(),
		sessions:  sessions,
		importer:  &mockImporter{},
		lifecycle: &mockLifecycle{},
		downloads: &mockDownloads{},
		status:    &mockStatus{},
		capturer:  &mockCapturer{},
	}
	env.users.Put(auth.User{ID: 42, DisplayName: "alice"})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := Services{
		Clips:     env.clips,
		Importer:  env.importer,
		Trimmer:   env.lifecycle,
		Deleter:   env.lifecycle,
		Editor:    env.lifecycle,
		Downloads: env.downloads,
		Capturer:  env.capturer,
		Status:    env.status,
		Sessions:  sessions,
		Users:     env.users,
	}
	for _, tweak := range tweaks {
		tweak(&svc)
	}
	h := NewHandlers(svc, logger, WithSecureCookies(false))
	env.router = NewRouter(h, logger, DefaultConfig())

	t.Cleanup(func() {
		env.importer.AssertExpectations(t)
		env.lifecycle.AssertExpectations(t)
		env.downloads.AssertExpectations(t)
		env.status.AssertExpectations(t)
		env.capturer.AssertExpectations(t)
	})
	return env
}

func (e *testEnv) token(t *testing.T) string {
	t.Helper()
	pair, err := e.sessions.Issue(42)
	require.NoError(t, err)
	return pair.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seed(t *testing.T, c *clip.Clip) {
	t.Helper()
	require.NoError(t, e.clips.Create(context.Background(), c))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/metrics", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestImportClip(t *testing.T) {
	const url = "https://youtube.com/clip/abc"
	requester := ingest.Requester{ID: 42, DisplayName: "alice"}

	tests := []struct {
		name     string
		result   ingest.ImportResult
		err      error
		wantCode int
		wantBody string
	}{
		{"accepted", ingest.ImportResult{Status: ingest.StatusAccepted, ClipName: "vid-1"}, nil, http.StatusAccepted, "accepted"},
		{"already imported", ingest.ImportResult{Status: ingest.StatusAlreadyImported, ClipName: "vid-1"}, nil, http.StatusOK, "already_imported"},
		{"invalid url", ingest.ImportResult{}, ingest.ErrInvalidURL, http.StatusBadRequest, "INVALID_URL"},
		{"source not found", ingest.ImportResult{}, ingest.ErrNotFound, http.StatusNotFound, "SOURCE_NOT_FOUND"},
		{"channel forbidden", ingest.ImportResult{}, ingest.ErrForbidden, http.StatusForbidden, "CHANNEL_NOT_ALLOWED"},
		{"worker down", ingest.ImportResult{}, ingest.ErrResolveFailed, http.StatusBadGateway, "UPSTREAM_FAILURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.importer.On("Import", mock.Anything, requester, url).Return(tt.result, tt.err).Once()

			rec := env.do(t, http.MethodPost, "/clips/import", ImportClipRequest{URL: url}, env.token(t))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestImportClip_RequiresSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/clips/import", ImportClipRequest{URL: "https://youtube.com/clip/abc"}, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Code)
}

func TestImportClip_ValidatesBody(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/clips/import", map[string]string{"url": ""}, env.token(t))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
}

func TestTrimClip(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, &clip.Clip{ClipName: "vid-1", ContentID: "asset-2", State: clip.StateReady, ClipDuration: 20})
	env.lifecycle.On("Trim", mock.Anything, "vid-1", 5.0, 25.0).Return(nil).Once()

	rec := env.do(t, http.MethodPost, "/clips/vid-1/trim", TrimClipRequest{Start: 5, End: 25}, env.token(t))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ClipResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "asset-2", resp.ContentID)
}

func TestTrimClip_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"too short", lifecycle.ErrInvalidRange, http.StatusBadRequest, "INVALID_RANGE"},
		{"missing", clip.ErrNotFound, http.StatusNotFound, "CLIP_NOT_FOUND"},
		{"not ready", lifecycle.ErrNotReady, http.StatusConflict, "CLIP_NOT_READY"},
		{"provider failed", lifecycle.ErrUpstreamFailure, http.StatusBadGateway, "UPSTREAM_FAILURE"},
		{"reauth", auth.ErrRefreshFailed, http.StatusUnauthorized, "REAUTH_REQUIRED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.lifecycle.On("Trim", mock.Anything, "vid-1", 0.0, 30.0).Return(tt.err).Once()

			rec := env.do(t, http.MethodPost, "/clips/vid-1/trim", TrimClipRequest{Start: 0, End: 30}, env.token(t))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, rec).Code)
		})
	}
}

func TestTrimClip_RejectsInvertedRange(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/clips/vid-1/trim", TrimClipRequest{Start: 30, End: 10}, env.token(t))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
}

func TestEditClip(t *testing.T) {
	env := newTestEnv(t)
	renamed := &clip.Clip{ClipName: "vid-1", ContentID: "asset-1", ContentName: "new title", State: clip.StateReady}
	env.lifecycle.On("Rename", mock.Anything, "vid-1", "new title").Return(renamed, nil).Once()

	rec := env.do(t, http.MethodPatch, "/clips/vid-1", EditClipRequest{ContentName: "new title"}, env.token(t))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ClipResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "new title", resp.ContentName)
}

func TestEditClip_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"missing", clip.ErrNotFound, http.StatusNotFound, "CLIP_NOT_FOUND"},
		{"blank after trim", lifecycle.ErrInvalidTitle, http.StatusBadRequest, "INVALID_TITLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.lifecycle.On("Rename", mock.Anything, "vid-1", "  ").Return(nil, tt.err).Once()

			rec := env.do(t, http.MethodPatch, "/clips/vid-1", EditClipRequest{ContentName: "  "}, env.token(t))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, rec).Code)
		})
	}
}

func TestEditClip_ValidatesAndRequiresSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPatch, "/clips/vid-1", EditClipRequest{ContentName: ""}, env.token(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodPatch, "/clips/vid-1", EditClipRequest{ContentName: "title"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCaptureClip(t *testing.T) {
	requester := capture.Requester{ID: 42, DisplayName: "alice"}
	captured := &clip.Clip{ClipName: "LiveClip", ContentID: "asset-9", CreatorID: 42, State: clip.StateReady}

	tests := []struct {
		name     string
		created  bool
		err      error
		wantCode int
		wantBody string
	}{
		{"created", true, nil, http.StatusCreated, "asset-9"},
		{"existing", false, nil, http.StatusOK, "asset-9"},
		{"refresh rejected", false, auth.ErrRefreshFailed, http.StatusUnauthorized, "REAUTH_REQUIRED"},
		{"worker empty", false, capture.ErrEmptyResponse, http.StatusBadGateway, "UPSTREAM_FAILURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			var c *clip.Clip
			if tt.err == nil {
				c = captured
			}
			env.capturer.On("Capture", mock.Anything, requester).Return(c, tt.created, tt.err).Once()

			rec := env.do(t, http.MethodPost, "/clips/capture", nil, env.token(t))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestCaptureClip_Disabled(t *testing.T) {
	env := newTestEnv(t, func(s *Services) { s.Capturer = nil })

	rec := env.do(t, http.MethodPost, "/clips/capture", nil, env.token(t))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "CAPTURE_DISABLED", decodeError(t, rec).Code)
}

func TestDeleteClip(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"deleted", nil, http.StatusNoContent},
		{"missing", clip.ErrNotFound, http.StatusNotFound},
		{"asset left behind", errors.Join(lifecycle.ErrPartialFailure, errors.New("provider down")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.lifecycle.On("Delete", mock.Anything, "vid-1").Return(tt.err).Once()

			rec := env.do(t, http.MethodDelete, "/clips/vid-1", nil, env.token(t))

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.err != nil && errors.Is(tt.err, lifecycle.ErrPartialFailure) {
				assert.Equal(t, "PARTIAL_FAILURE", decodeError(t, rec).Code)
			}
		})
	}
}

func TestGetClip(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, &clip.Clip{ClipName: "vid-1", ContentName: "A clip", State: clip.StateProvisional})

	rec := env.do(t, http.MethodGet, "/clips/vid-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ClipResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "A clip", resp.ContentName)
	assert.Equal(t, "provisional", resp.State)

	rec = env.do(t, http.MethodGet, "/clips/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListClips_Paginates(t *testing.T) {
	env := newTestEnv(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range clip.PageSize + 3 {
		env.seed(t, &clip.Clip{
			ClipName:      "vid-" + string(rune('a'+i)),
			CreatorID:     int64(i % 2),
			ClipCreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	rec := env.do(t, http.MethodGet, "/clips", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var first ClipListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Len(t, first.Clips, clip.PageSize)
	require.NotNil(t, first.NextOffset)
	assert.Equal(t, clip.PageSize, *first.NextOffset)

	rec = env.do(t, http.MethodGet, "/clips?offset=12", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var second ClipListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Len(t, second.Clips, 3)
	assert.Nil(t, second.NextOffset)

	rec = env.do(t, http.MethodGet, "/clips?offset=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListUserClips(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, &clip.Clip{ClipName: "vid-1", CreatorID: 42})
	env.seed(t, &clip.Clip{ClipName: "vid-2", CreatorID: 7})

	rec := env.do(t, http.MethodGet, "/users/42/clips", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ClipListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Clips, 1)
	assert.Equal(t, "vid-1", resp.Clips[0].ClipName)

	rec = env.do(t, http.MethodGet, "/users/abc/clips", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadClip(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, &clip.Clip{ClipName: "vid-1", ContentID: "asset-1", State: clip.StateReady})
	env.seed(t, &clip.Clip{ClipName: "vid-2", State: clip.StateProvisional})
	env.downloads.On("RequestDownloadURL", mock.Anything, "asset-1").
		Return(stream.Download{Status: "ready", URL: "https://dl/asset-1.mp4", PercentComplete: 100}, nil).Once()

	rec := env.do(t, http.MethodGet, "/clips/vid-1/download", nil, env.token(t))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp DownloadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://dl/asset-1.mp4", resp.URL)

	rec = env.do(t, http.MethodGet, "/clips/vid-2/download", nil, env.token(t))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStreamStatus(t *testing.T) {
	env := newTestEnv(t)
	env.status.On("Status", mock.Anything, helix.ModeApp).
		Return(helix.Status{State: helix.StateOffline}, nil).Once()
	env.status.On("Status", mock.Anything, helix.Mode("bogus")).
		Return(helix.Status{}, helix.ErrUnknownMode).Once()

	rec := env.do(t, http.MethodGet, "/stream/status?mode=app", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"offline"}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/stream/status?mode=bogus", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshSession(t *testing.T) {
	env := newTestEnv(t)
	pair, err := env.sessions.Issue(42)
	require.NoError(t, err)

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: refreshCookie, Value: pair.RefreshToken})
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp SessionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		claims, err := env.sessions.Validate(resp.AccessToken)
		require.NoError(t, err)
		assert.False(t, claims.IsRefresh())

		names := map[string]bool{}
		for _, c := range rec.Result().Cookies() {
			names[c.Name] = c.HttpOnly
		}
		assert.True(t, names[accessCookie])
		assert.True(t, names[refreshCookie])
	})

	t.Run("body", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/auth/refresh", RefreshSessionRequest{RefreshToken: pair.RefreshToken}, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/auth/refresh", RefreshSessionRequest{RefreshToken: pair.AccessToken}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/auth/refresh", nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
