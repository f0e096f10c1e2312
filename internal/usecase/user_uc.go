package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/adapter"
	"codepolish/internal/domain/ports/repository"
	"codepolish/internal/infra/logging"
	"codepolish/internal/infra/metrics"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase covers sign-in and identity lookups.
type UserUseCase interface {
	// LoginWithIdentity registers or refreshes the user behind a verified
	// OAuth identity and makes sure they have a subscription.
	LoginWithIdentity(ctx context.Context, id *adapter.Identity) (*model.User, error)
	GetByID(ctx context.Context, userID int64) (*model.User, error)
}

type userUC struct {
	users repository.UserRepository
	subs  repository.SubscriptionRepository
	log   *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, subs repository.SubscriptionRepository, logger *zerolog.Logger) *userUC {
	return &userUC{users: users, subs: subs, log: logger}
}

func (u *userUC) LoginWithIdentity(ctx context.Context, id *adapter.Identity) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.LoginWithIdentity")()

	if id == nil {
		return nil, domain.ErrUnauthorized
	}
	_, err := u.users.FindByOpenID(ctx, repository.NoTX, id.OpenID)
	isNew := errors.Is(err, domain.ErrNotFound)
	if err != nil && !isNew {
		return nil, err
	}

	user, err := model.NewUser(id.OpenID, id.Name, id.Email, id.LoginMethod)
	if err != nil {
		return nil, err
	}
	if err := u.users.Upsert(ctx, repository.NoTX, user); err != nil {
		return nil, err
	}
	if isNew {
		metrics.IncUsersRegistered()
		u.log.Info().Int64("user_id", user.ID).Str("method", id.LoginMethod).Msg("user registered")
	}
	if _, err := ensureSubscription(ctx, u.subs, repository.NoTX, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (u *userUC) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.GetByID")()
	return u.users.FindByID(ctx, repository.NoTX, userID)
}
