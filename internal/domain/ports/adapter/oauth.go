package adapter

import "context"

// Identity is the provider-verified profile of a signing-in user.
type Identity struct {
	OpenID      string
	Name        string
	Email       string
	LoginMethod string
}

// IdentityProvider runs the authorization code flow against an OAuth provider.
type IdentityProvider interface {
	Name() string
	AuthCodeURL(state, redirectURI string) string
	Exchange(ctx context.Context, code, redirectURI string) (*Identity, error)
}
