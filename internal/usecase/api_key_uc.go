package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/repository"
	"codepolish/internal/infra/logging"
)

// Compile-time check
var _ APIKeyUseCase = (*apiKeyUC)(nil)

const maxAPIKeyDays = 365

type APIKeyUseCase interface {
	// Create returns the stored key and the secret, which is never retrievable again.
	Create(ctx context.Context, userID int64, name string, expiresInDays *int) (*model.APIKey, string, error)
	List(ctx context.Context, userID int64) ([]*model.APIKey, error)
	Revoke(ctx context.Context, userID, keyID int64) error
	// Authenticate resolves a presented secret to its owner.
	Authenticate(ctx context.Context, secret string) (userID int64, err error)
}

type apiKeyUC struct {
	keys repository.APIKeyRepository
	log  *zerolog.Logger
}

func NewAPIKeyUseCase(keys repository.APIKeyRepository, logger *zerolog.Logger) *apiKeyUC {
	return &apiKeyUC{keys: keys, log: logger}
}

// HashAPIKey is the lookup form of a secret.
func HashAPIKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func newSecret() string {
	a, b := uuid.New(), uuid.New()
	return model.APIKeyPrefix + strings.ReplaceAll(a.String()+b.String(), "-", "")
}

func (u *apiKeyUC) Create(ctx context.Context, userID int64, name string, expiresInDays *int) (*model.APIKey, string, error) {
	defer logging.TraceDuration(u.log, "APIKeyUC.Create")()

	var expires *time.Time
	if expiresInDays != nil {
		if *expiresInDays < 1 || *expiresInDays > maxAPIKeyDays {
			return nil, "", domain.Invalid("expiresInDays must be between 1 and %d", maxAPIKeyDays)
		}
		t := time.Now().Add(time.Duration(*expiresInDays) * 24 * time.Hour)
		expires = &t
	}
	secret := newSecret()
	k, err := model.NewAPIKey(userID, name, secret, HashAPIKey(secret), expires)
	if err != nil {
		return nil, "", err
	}
	if err := u.keys.Create(ctx, repository.NoTX, k); err != nil {
		return nil, "", err
	}
	return k, secret, nil
}

func (u *apiKeyUC) List(ctx context.Context, userID int64) ([]*model.APIKey, error) {
	defer logging.TraceDuration(u.log, "APIKeyUC.List")()
	keys, err := u.keys.ListByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []*model.APIKey{}
	}
	return keys, nil
}

func (u *apiKeyUC) Revoke(ctx context.Context, userID, keyID int64) error {
	defer logging.TraceDuration(u.log, "APIKeyUC.Revoke")()
	return u.keys.Delete(ctx, repository.NoTX, keyID, userID)
}

func (u *apiKeyUC) Authenticate(ctx context.Context, secret string) (int64, error) {
	if !strings.HasPrefix(secret, model.APIKeyPrefix) {
		return 0, domain.ErrUnauthorized
	}
	k, err := u.keys.FindByHash(ctx, repository.NoTX, HashAPIKey(secret))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, domain.ErrUnauthorized
		}
		return 0, err
	}
	if k.Expired(time.Now()) {
		return 0, domain.ErrUnauthorized
	}
	if err := u.keys.TouchLastUsed(ctx, repository.NoTX, k.ID); err != nil {
		u.log.Warn().Err(err).Int64("key_id", k.ID).Msg("touch api key")
	}
	return k.UserID, nil
}
