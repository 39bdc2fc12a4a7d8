package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdentity struct {
	refreshCalls atomic.Int32
	grantCalls   atomic.Int32
	refreshErr   error
	grantErr     error
	delay        time.Duration
	started      chan struct{}
	startOnce    sync.Once
}

func (f *fakeIdentity) RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	n := f.refreshCalls.Add(1)
	if f.started != nil {
		f.startOnce.Do(func() { close(f.started) })
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return TokenPair{}, ctx.Err()
		}
	}
	if f.refreshErr != nil {
		return TokenPair{}, f.refreshErr
	}
	return TokenPair{
		AccessToken:  "access-" + string(rune('0'+n)),
		RefreshToken: refreshToken + "-next",
		ExpiresIn:    time.Hour,
	}, nil
}

func (f *fakeIdentity) ClientCredentials(_ context.Context) (Token, error) {
	f.grantCalls.Add(1)
	if f.grantErr != nil {
		return Token{}, f.grantErr
	}
	return Token{AccessToken: "app-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func seededUsers() *MemoryUserStore {
	users := NewMemoryUserStore()
	users.Put(User{
		ID:          42,
		DisplayName: "streamer",
		Credential:  Credential{AccessToken: "old", RefreshToken: "r0", Version: 1},
	})
	return users
}

func TestAuthority_RefreshUserToken(t *testing.T) {
	identity := &fakeIdentity{}
	users := seededUsers()
	a := NewAuthority(identity, users, nil)
	ctx := context.Background()

	stale, err := a.UserCredential(ctx, 42)
	require.NoError(t, err)

	fresh, err := a.RefreshUserToken(ctx, 42, stale)
	require.NoError(t, err)

	assert.Equal(t, int64(2), fresh.Version)
	assert.Equal(t, "r0-next", fresh.RefreshToken)
	assert.NotEqual(t, stale.AccessToken, fresh.AccessToken)

	stored, err := users.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, fresh, stored.Credential)
}

func TestAuthority_RefreshUserToken_AlreadyRefreshed(t *testing.T) {
	identity := &fakeIdentity{}
	users := seededUsers()
	a := NewAuthority(identity, users, nil)
	ctx := context.Background()

	stale, _ := a.UserCredential(ctx, 42)
	first, err := a.RefreshUserToken(ctx, 42, stale)
	require.NoError(t, err)

	// A second caller still holding the old version gets the stored pair.
	second, err := a.RefreshUserToken(ctx, 42, stale)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), identity.refreshCalls.Load())
}

func TestAuthority_RefreshUserToken_Concurrent(t *testing.T) {
	identity := &fakeIdentity{delay: 20 * time.Millisecond}
	users := seededUsers()
	a := NewAuthority(identity, users, nil)
	ctx := context.Background()
	stale, _ := a.UserCredential(ctx, 42)

	var wg sync.WaitGroup
	results := make([]Credential, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := a.RefreshUserToken(ctx, 42, stale)
			assert.NoError(t, err)
			results[i] = cred
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), identity.refreshCalls.Load())
	for _, r := range results {
		assert.Equal(t, int64(2), r.Version)
	}
}

func TestAuthority_RefreshUserToken_SurvivesFirstCallerCancel(t *testing.T) {
	identity := &fakeIdentity{delay: 50 * time.Millisecond, started: make(chan struct{})}
	users := seededUsers()
	a := NewAuthority(identity, users, nil)
	stale, _ := a.UserCredential(context.Background(), 42)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := a.RefreshUserToken(firstCtx, 42, stale)
		firstErr <- err
	}()
	<-identity.started

	secondDone := make(chan Credential, 1)
	go func() {
		cred, err := a.RefreshUserToken(context.Background(), 42, stale)
		assert.NoError(t, err)
		secondDone <- cred
	}()
	time.Sleep(5 * time.Millisecond)
	cancelFirst()

	err := <-firstErr
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, context.Canceled)

	second := <-secondDone
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, int32(1), identity.refreshCalls.Load())

	stored, err := users.GetUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Credential.Version)
}

func TestAuthority_RefreshUserToken_Rejected(t *testing.T) {
	identity := &fakeIdentity{refreshErr: ErrGrantRejected}
	a := NewAuthority(identity, seededUsers(), nil)
	ctx := context.Background()
	stale, _ := a.UserCredential(ctx, 42)

	_, err := a.RefreshUserToken(ctx, 42, stale)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, ErrGrantRejected)
}

func TestAuthority_RefreshUserToken_UnknownUser(t *testing.T) {
	a := NewAuthority(&fakeIdentity{}, NewMemoryUserStore(), nil)

	_, err := a.RefreshUserToken(context.Background(), 7, Credential{})

	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthority_IssueServiceToken_Cached(t *testing.T) {
	identity := &fakeIdentity{}
	a := NewAuthority(identity, NewMemoryUserStore(), nil)
	ctx := context.Background()

	first, err := a.IssueServiceToken(ctx)
	require.NoError(t, err)
	second, err := a.IssueServiceToken(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), identity.grantCalls.Load())

	a.InvalidateServiceToken(first.AccessToken)
	_, err = a.IssueServiceToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), identity.grantCalls.Load())
}

func TestAuthority_IssueServiceToken_Unavailable(t *testing.T) {
	a := NewAuthority(&fakeIdentity{grantErr: errors.New("dial tcp: refused")}, NewMemoryUserStore(), nil)

	_, err := a.IssueServiceToken(context.Background())

	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestServiceSource_RefreshReissues(t *testing.T) {
	identity := &fakeIdentity{}
	a := NewAuthority(identity, NewMemoryUserStore(), nil)
	src := a.ForService()
	ctx := context.Background()

	cred, err := src.Credential(ctx)
	require.NoError(t, err)
	_, err = src.Refresh(ctx, cred)
	require.NoError(t, err)

	assert.Equal(t, int32(2), identity.grantCalls.Load())
}
