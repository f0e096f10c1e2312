package repository

import (
	"context"

	"codepolish/internal/domain/model"
)

type UserRepository interface {
	// Upsert inserts by open id or refreshes name, email and last sign-in of an existing row.
	Upsert(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id int64) (*model.User, error)
	FindByOpenID(ctx context.Context, tx Tx, openID string) (*model.User, error)
}
