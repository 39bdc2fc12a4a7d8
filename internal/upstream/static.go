package upstream

import (
	"context"
	"fmt"

	"github.com/maauso/clipvault-api/internal/auth"
)

// StaticSource serves a fixed API token that cannot be refreshed.
type StaticSource struct {
	token string
}

// NewStaticSource wraps a long-lived API token.
func NewStaticSource(token string) StaticSource {
	return StaticSource{token: token}
}

// Credential returns the fixed token.
func (s StaticSource) Credential(context.Context) (auth.Credential, error) {
	return auth.Credential{AccessToken: s.token}, nil
}

// Refresh always fails; a static token that was rejected stays rejected.
func (s StaticSource) Refresh(context.Context, auth.Credential) (auth.Credential, error) {
	return auth.Credential{}, fmt.Errorf("%w: static API token cannot be refreshed", auth.ErrRefreshFailed)
}

// Bearer sets the Authorization header from cred.
func Bearer(cred auth.Credential) string {
	return "Bearer " + cred.AccessToken
}
