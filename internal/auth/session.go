package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	accessTTL    = 30 * time.Minute
	refreshTTL   = 14 * 24 * time.Hour
	refreshScope = "refresh"
)

var (
	// ErrSecretRequired is returned when no signing secret is configured.
	ErrSecretRequired = errors.New("auth: session secret is required")
	// ErrInvalidToken is returned for malformed or badly signed session tokens.
	ErrInvalidToken = errors.New("auth: invalid session token")
	// ErrExpiredToken is returned for expired session tokens.
	ErrExpiredToken = errors.New("auth: session token expired")
)

// Claims are the local session token claims. Subject carries the user id.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject as a user id.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return id, nil
}

// IsRefresh reports whether the token may only be used to obtain a new pair.
func (c *Claims) IsRefresh() bool {
	return c.Scope == refreshScope
}

// SessionPair is an access/refresh session token pair.
type SessionPair struct {
	AccessToken  string
	RefreshToken string
}

// SessionIssuer signs and validates HS256 session tokens.
type SessionIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewSessionIssuer creates an issuer signing with secret.
func NewSessionIssuer(secret string) (*SessionIssuer, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}
	return &SessionIssuer{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a new access/refresh pair for userID.
func (s *SessionIssuer) Issue(userID int64) (SessionPair, error) {
	access, err := s.sign(userID, "", accessTTL)
	if err != nil {
		return SessionPair{}, err
	}
	refresh, err := s.sign(userID, refreshScope, refreshTTL)
	if err != nil {
		return SessionPair{}, err
	}
	return SessionPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *SessionIssuer) sign(userID int64, scope string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign session token: %w", err)
	}
	return signed, nil
}

// Validate checks signature and expiry and returns the claims.
func (s *SessionIssuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
