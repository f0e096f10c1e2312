package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*userRepo)(nil)

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *userRepo {
	return &userRepo{pool: pool}
}

const userColumns = `id, open_id, name, email, login_method, role, created_at, updated_at, last_signed_in`

func (r *userRepo) Upsert(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (open_id, name, email, login_method, role, last_signed_in)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (open_id) DO UPDATE SET
  name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
  email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
  login_method = EXCLUDED.login_method,
  last_signed_in = EXCLUDED.last_signed_in,
  updated_at = NOW()
RETURNING ` + userColumns + `;`
	row, err := pickRow(ctx, r.pool, tx, q, u.OpenID, u.Name, u.Email, u.LoginMethod, u.Role, u.LastSignedIn)
	if err != nil {
		return err
	}
	return translate(scanUser(row, u))
}

func (r *userRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1;`
	return r.queryOne(ctx, tx, q, id)
}

func (r *userRepo) FindByOpenID(ctx context.Context, tx repository.Tx, openID string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE open_id=$1;`
	return r.queryOne(ctx, tx, q, openID)
}

func (r *userRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	var u model.User
	if err := scanUser(row, &u); err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner, u *model.User) error {
	return row.Scan(&u.ID, &u.OpenID, &u.Name, &u.Email, &u.LoginMethod, &u.Role, &u.CreatedAt, &u.UpdatedAt, &u.LastSignedIn)
}
