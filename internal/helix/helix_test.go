package helix

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/clipvault-api/internal/auth"
	"github.com/maauso/clipvault-api/internal/upstream"
)

type rotatingSource struct {
	token     string
	refreshes atomic.Int32
	fail      bool
}

func (s *rotatingSource) Credential(context.Context) (auth.Credential, error) {
	return auth.Credential{AccessToken: s.token}, nil
}

func (s *rotatingSource) Refresh(context.Context, auth.Credential) (auth.Credential, error) {
	s.refreshes.Add(1)
	if s.fail {
		return auth.Credential{}, auth.ErrRefreshFailed
	}
	s.token = "fresh"
	return auth.Credential{AccessToken: s.token, Version: 2}, nil
}

func newService(t *testing.T, handler http.HandlerFunc, user, app upstream.CredentialSource) *StatusService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient("client-1", WithBaseURL(srv.URL))
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStatusService(client, user, app, "1234", logger)
}

func TestNewClient_RequiresClientID(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrClientIDRequired)
}

func TestStatus_Online(t *testing.T) {
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/helix/streams", r.URL.Path)
		assert.Equal(t, "1234", r.URL.Query().Get("user_id"))
		assert.Equal(t, "client-1", r.Header.Get("Client-Id"))
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"data":[{"id":"s1","user_id":"1234","title":"live now","viewer_count":12}]}`)
	}, &rotatingSource{token: "user-token"}, &rotatingSource{token: "app-token"})

	st, err := svc.Status(context.Background(), ModeUser)
	require.NoError(t, err)
	assert.Equal(t, StateOnline, st.State)
	require.NotNil(t, st.Stream)
	assert.Equal(t, "live now", st.Stream.Title)
	assert.Equal(t, 12, st.Stream.ViewerCount)
}

func TestStatus_Offline(t *testing.T) {
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer app-token", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"data":[]}`)
	}, &rotatingSource{token: "user-token"}, &rotatingSource{token: "app-token"})

	st, err := svc.Status(context.Background(), ModeApp)
	require.NoError(t, err)
	assert.Equal(t, StateOffline, st.State)
	assert.Nil(t, st.Stream)
}

func TestStatus_RefreshesOnceOnUnauthorized(t *testing.T) {
	user := &rotatingSource{token: "expired"}
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"data":[]}`)
	}, user, &rotatingSource{token: "app-token"})

	st, err := svc.Status(context.Background(), ModeUser)
	require.NoError(t, err)
	assert.Equal(t, StateOffline, st.State)
	assert.Equal(t, int32(1), user.refreshes.Load())
}

func TestStatus_UnknownOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		failRef bool
	}{
		{"server error", http.StatusInternalServerError, false},
		{"refresh rejected", http.StatusUnauthorized, true},
		{"still unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &rotatingSource{token: "expired", fail: tt.failRef}
			var calls atomic.Int32
			svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}, user, &rotatingSource{token: "app-token"})

			st, err := svc.Status(context.Background(), ModeUser)
			require.NoError(t, err)
			assert.Equal(t, StateUnknown, st.State)
			assert.LessOrEqual(t, calls.Load(), int32(2))
		})
	}
}

func TestStatus_RejectsUnknownMode(t *testing.T) {
	svc := newService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	}, &rotatingSource{}, &rotatingSource{})

	_, err := svc.Status(context.Background(), Mode("other"))
	assert.ErrorIs(t, err, ErrUnknownMode)
}
