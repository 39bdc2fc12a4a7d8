package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// serviceTokenMargin is how long before expiry a cached service token is
// considered unusable.
const serviceTokenMargin = 5 * time.Minute

// defaultRefreshTimeout bounds one shared grant or refresh. Shared calls run
// detached from the caller that started them.
const defaultRefreshTimeout = 30 * time.Second

// Authority hands out service tokens and refreshes user credentials.
// Refreshes of the same user are coalesced into one provider call.
type Authority struct {
	identity IdentityProvider
	users    UserStore
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration

	refreshes singleflight.Group

	mu      sync.Mutex
	service Token
}

// AuthorityOption configures an Authority.
type AuthorityOption func(*Authority)

// WithClock overrides the time source.
func WithClock(now func() time.Time) AuthorityOption {
	return func(a *Authority) {
		a.now = now
	}
}

// WithRefreshTimeout bounds how long a shared grant or refresh may run.
func WithRefreshTimeout(d time.Duration) AuthorityOption {
	return func(a *Authority) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthority creates an Authority backed by identity and users.
func NewAuthority(identity IdentityProvider, users UserStore, logger *slog.Logger, opts ...AuthorityOption) *Authority {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Authority{
		identity: identity,
		users:    users,
		logger:   logger,
		now:      time.Now,
		timeout:  defaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IssueServiceToken returns a cached app token, obtaining a new one through
// the client-credentials grant when the cache is empty or near expiry.
func (a *Authority) IssueServiceToken(ctx context.Context) (Token, error) {
	a.mu.Lock()
	cached := a.service
	a.mu.Unlock()
	if cached.Valid(a.now(), serviceTokenMargin) {
		return cached, nil
	}

	v, err, _ := a.shared(ctx, "service", func(ctx context.Context) (any, error) {
		tok, err := a.identity.ClientCredentials(ctx)
		if err != nil {
			return Token{}, err
		}
		a.mu.Lock()
		a.service = tok
		a.mu.Unlock()
		return tok, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return Token{}, ctx.Err()
		}
		a.logger.Warn("service token grant failed", slog.String("error", err.Error()))
		return Token{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return v.(Token), nil
}

// InvalidateServiceToken drops the cached app token if it still equals stale.
func (a *Authority) InvalidateServiceToken(stale string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.service.AccessToken == stale {
		a.service = Token{}
	}
}

// UserCredential returns the currently stored credential of a user.
func (a *Authority) UserCredential(ctx context.Context, userID int64) (Credential, error) {
	u, err := a.users.GetUser(ctx, userID)
	if err != nil {
		return Credential{}, err
	}
	return u.Credential, nil
}

// RefreshUserToken replaces the stale credential of a user with a new pair
// and persists it. If another caller already refreshed past stale, the
// stored credential is returned without contacting the provider.
func (a *Authority) RefreshUserToken(ctx context.Context, userID int64, stale Credential) (Credential, error) {
	key := strconv.FormatInt(userID, 10)
	v, err, shared := a.shared(ctx, key, func(ctx context.Context) (any, error) {
		return a.refreshUser(ctx, userID, stale)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Credential{}, fmt.Errorf("%w: %w", ErrRefreshFailed, ctx.Err())
		}
		return Credential{}, err
	}
	if shared {
		a.logger.Debug("credential refresh coalesced", slog.Int64("user_id", userID))
	}
	return v.(Credential), nil
}

// shared runs fn once per key for all concurrent callers. fn gets a context
// that outlives the first caller's cancellation, bounded by the refresh
// timeout. Each caller stops waiting when its own ctx is done.
func (a *Authority) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error, bool) {
	ch := a.refreshes.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		return fn(rctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err, res.Shared
	case <-ctx.Done():
		return nil, ctx.Err(), false
	}
}

func (a *Authority) refreshUser(ctx context.Context, userID int64, stale Credential) (Credential, error) {
	u, err := a.users.GetUser(ctx, userID)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: load user %d: %w", ErrRefreshFailed, userID, err)
	}
	if u.Credential.Version > stale.Version {
		return u.Credential, nil
	}
	if u.Credential.RefreshToken == "" {
		return Credential{}, fmt.Errorf("%w: user %d has no refresh token", ErrRefreshFailed, userID)
	}

	pair, err := a.identity.RefreshToken(ctx, u.Credential.RefreshToken)
	if err != nil {
		a.logger.Warn("user credential refresh rejected",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
		return Credential{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	fresh := Credential{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Version:      u.Credential.Version + 1,
		IssuedAt:     a.now(),
	}
	if _, err := a.users.UpdateCredential(ctx, userID, fresh); err != nil {
		if errors.Is(err, ErrStaleCredential) {
			// Someone persisted a newer pair between our read and write.
			current, gerr := a.users.GetUser(ctx, userID)
			if gerr == nil {
				return current.Credential, nil
			}
		}
		return Credential{}, fmt.Errorf("%w: persist credential: %w", ErrRefreshFailed, err)
	}

	a.logger.Info("user credential refreshed",
		slog.Int64("user_id", userID),
		slog.Int64("version", fresh.Version),
	)
	return fresh, nil
}
