package auth

import (
	"context"
	"fmt"
)

// UserSource yields a user's stored credential and refreshes it through
// the Authority.
type UserSource struct {
	authority *Authority
	userID    int64
}

// ForUser returns a credential source bound to one user.
func (a *Authority) ForUser(userID int64) *UserSource {
	return &UserSource{authority: a, userID: userID}
}

// Credential loads the current credential from the user store.
func (s *UserSource) Credential(ctx context.Context) (Credential, error) {
	cred, err := s.authority.UserCredential(ctx, s.userID)
	if err != nil {
		return Credential{}, fmt.Errorf("auth: load credential for user %d: %w", s.userID, err)
	}
	return cred, nil
}

// Refresh replaces stale with a freshly issued credential.
func (s *UserSource) Refresh(ctx context.Context, stale Credential) (Credential, error) {
	return s.authority.RefreshUserToken(ctx, s.userID, stale)
}

// ServiceSource yields the app token; refreshing re-issues it.
type ServiceSource struct {
	authority *Authority
}

// ForService returns the app-token credential source.
func (a *Authority) ForService() *ServiceSource {
	return &ServiceSource{authority: a}
}

// Credential returns the cached or newly issued app token.
func (s *ServiceSource) Credential(ctx context.Context) (Credential, error) {
	tok, err := s.authority.IssueServiceToken(ctx)
	if err != nil {
		return Credential{}, err
	}
	return Credential{AccessToken: tok.AccessToken}, nil
}

// Refresh drops the rejected token and issues a new one.
func (s *ServiceSource) Refresh(ctx context.Context, stale Credential) (Credential, error) {
	s.authority.InvalidateServiceToken(stale.AccessToken)
	cred, err := s.Credential(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	return cred, nil
}
