package repository

import (
	"context"

	"codepolish/internal/domain/model"
)

type APIKeyRepository interface {
	Create(ctx context.Context, tx Tx, k *model.APIKey) error
	FindByHash(ctx context.Context, tx Tx, hash string) (*model.APIKey, error)
	ListByUser(ctx context.Context, tx Tx, userID int64) ([]*model.APIKey, error)
	Delete(ctx context.Context, tx Tx, id, userID int64) error
	TouchLastUsed(ctx context.Context, tx Tx, id int64) error
}
