// Package auth issues and refreshes the credentials used against the
// identity provider and its APIs, and signs the local session tokens that
// identify callers of this service.
package auth

import (
	"errors"
	"time"
)

var (
	// ErrUnavailable is returned when no service token can be obtained.
	ErrUnavailable = errors.New("auth: identity provider unavailable")
	// ErrRefreshFailed is returned when a user credential cannot be refreshed.
	// Callers treat it as "the user must re-authenticate".
	ErrRefreshFailed = errors.New("auth: credential refresh failed")
	// ErrUserNotFound is returned when the user is unknown to the UserStore.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrStaleCredential is returned by UserStore.UpdateCredential when a
	// credential with the same or a newer version is already stored.
	ErrStaleCredential = errors.New("auth: stale credential version")
)

// Credential is a user's bearer token pair. Each refresh produces a new
// pair with Version incremented.
type Credential struct {
	AccessToken  string    `json:"accessToken" bson:"accessToken"`
	RefreshToken string    `json:"refreshToken" bson:"refreshToken"`
	Version      int64     `json:"version" bson:"version"`
	IssuedAt     time.Time `json:"issuedAt" bson:"issuedAt"`
}

// IsZero reports whether the credential carries no access token.
func (c Credential) IsZero() bool {
	return c.AccessToken == ""
}

// Token is an app-level access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token can still be used at now, keeping margin
// before expiry.
func (t Token) Valid(now time.Time, margin time.Duration) bool {
	return t.AccessToken != "" && now.Add(margin).Before(t.ExpiresAt)
}
