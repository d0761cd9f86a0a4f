// Package auth resolves bearer credentials to user ids
package auth

import (
	"context"
	"strings"

	"relay-api/internal/shared"
)

// Authenticator turns a bearer credential into a user id. Implementations
// return shared.ErrUnauthorized (possibly joined with detail) for invalid or
// expired credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (uint64, error)
}

// Resolver dispatches a credential to the authenticator that understands its
// shape: three dot separated segments are session JWTs, fixed length opaque
// strings are API keys. Either authenticator may be nil when not configured.
type Resolver struct {
	sessions Authenticator
	apiKeys  Authenticator
}

func NewResolver(sessions, apiKeys Authenticator) *Resolver {
	return &Resolver{sessions: sessions, apiKeys: apiKeys}
}

func (r *Resolver) Authenticate(ctx context.Context, token string) (uint64, error) {
	switch {
	case strings.Count(token, ".") == 2 && r.sessions != nil:
		return r.sessions.Authenticate(ctx, token)
	case len(token) == shared.APIKeyLength && r.apiKeys != nil:
		return r.apiKeys.Authenticate(ctx, token)
	}
	return 0, shared.ErrUnauthorized
}
