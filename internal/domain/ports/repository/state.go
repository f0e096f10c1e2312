package repository

import (
	"context"
	"time"
)

// OAuthState is what we remember between redirecting to the provider and its callback.
type OAuthState struct {
	RedirectTo string `json:"redirectTo"`
}

// StateStore keeps short lived OAuth login state keyed by the random state value.
type StateStore interface {
	Put(ctx context.Context, key string, st *OAuthState, ttl time.Duration) error
	// Consume returns and deletes the state. Returns ErrNotFound when missing or expired.
	Consume(ctx context.Context, key string) (*OAuthState, error)
}
