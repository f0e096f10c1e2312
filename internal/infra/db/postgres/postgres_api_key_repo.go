package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/repository"
)

var _ repository.APIKeyRepository = (*apiKeyRepo)(nil)

type apiKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepo(pool *pgxpool.Pool) *apiKeyRepo {
	return &apiKeyRepo{pool: pool}
}

const apiKeyColumns = `id, user_id, name, key_hash, key_prefix, last_used, expires_at, created_at`

func (r *apiKeyRepo) Create(ctx context.Context, tx repository.Tx, k *model.APIKey) error {
	const q = `
INSERT INTO api_keys (user_id, name, key_hash, key_prefix, expires_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, created_at;`
	row, err := pickRow(ctx, r.pool, tx, q, k.UserID, k.Name, k.KeyHash, k.KeyPrefix, k.ExpiresAt)
	if err != nil {
		return err
	}
	return translate(row.Scan(&k.ID, &k.CreatedAt))
}

func (r *apiKeyRepo) FindByHash(ctx context.Context, tx repository.Tx, hash string) (*model.APIKey, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash=$1;`, hash)
	if err != nil {
		return nil, err
	}
	k, err := scanAPIKey(row)
	if err != nil {
		return nil, translate(err)
	}
	return k, nil
}

func (r *apiKeyRepo) ListByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.APIKey, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id=$1 ORDER BY created_at DESC;`, userID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	out := make([]*model.APIKey, 0)
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *apiKeyRepo) Delete(ctx context.Context, tx repository.Tx, id, userID int64) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM api_keys WHERE id=$1 AND user_id=$2;`, id, userID)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *apiKeyRepo) TouchLastUsed(ctx context.Context, tx repository.Tx, id int64) error {
	_, err := execSQL(ctx, r.pool, tx, `UPDATE api_keys SET last_used=NOW() WHERE id=$1;`, id)
	return translate(err)
}

func scanAPIKey(row scanner) (*model.APIKey, error) {
	var k model.APIKey
	if err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.LastUsed, &k.ExpiresAt, &k.CreatedAt); err != nil {
		return nil, err
	}
	return &k, nil
}
