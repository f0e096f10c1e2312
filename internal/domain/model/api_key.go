package model

import (
	"strings"
	"time"

	"codepolish/internal/domain"
)

const (
	APIKeyPrefix     = "cp_"
	apiKeyDisplayLen = 12
)

// APIKey grants programmatic access on behalf of a user. Only the hash of the secret is stored.
type APIKey struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"userId"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"-"`
	KeyPrefix string     `json:"keyPrefix"`
	LastUsed  *time.Time `json:"lastUsed"`
	ExpiresAt *time.Time `json:"expiresAt"`
	CreatedAt time.Time  `json:"createdAt"`
}

func NewAPIKey(userID int64, name, secret, hash string, expiresAt *time.Time) (*APIKey, error) {
	name = strings.TrimSpace(name)
	if userID <= 0 || name == "" || len(name) > 100 {
		return nil, domain.Invalid("api key name must be between 1 and 100 characters")
	}
	if !strings.HasPrefix(secret, APIKeyPrefix) || len(secret) < apiKeyDisplayLen || hash == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &APIKey{
		UserID:    userID,
		Name:      name,
		KeyHash:   hash,
		KeyPrefix: secret[:apiKeyDisplayLen],
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
