package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v4/pgxpool"

	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/repository"
)

var _ repository.PreferencesRepository = (*preferencesRepo)(nil)

type preferencesRepo struct {
	pool *pgxpool.Pool
}

func NewPreferencesRepo(pool *pgxpool.Pool) *preferencesRepo {
	return &preferencesRepo{pool: pool}
}

func (r *preferencesRepo) Get(ctx context.Context, tx repository.Tx, userID int64) (*model.Preferences, error) {
	const q = `
SELECT user_id, default_framework, default_preset, custom_rules, theme, email_notifications, updated_at
  FROM user_preferences WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	var (
		p     model.Preferences
		rules *string
	)
	if err := row.Scan(&p.UserID, &p.DefaultFramework, &p.DefaultPreset, &rules, &p.Theme, &p.EmailNotifications, &p.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	if rules != nil {
		var rs model.Rules
		if json.Unmarshal([]byte(*rules), &rs) == nil {
			p.CustomRules = &rs
		}
	}
	return &p, nil
}

func (r *preferencesRepo) Save(ctx context.Context, tx repository.Tx, p *model.Preferences) error {
	var rules *string
	if p.CustomRules != nil {
		b, err := json.Marshal(p.CustomRules)
		if err != nil {
			return err
		}
		s := string(b)
		rules = &s
	}
	const q = `
INSERT INTO user_preferences (user_id, default_framework, default_preset, custom_rules, theme, email_notifications)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (user_id) DO UPDATE SET
  default_framework=$2, default_preset=$3, custom_rules=$4, theme=$5, email_notifications=$6, updated_at=NOW()
RETURNING updated_at;`
	row, err := pickRow(ctx, r.pool, tx, q, p.UserID, p.DefaultFramework, p.DefaultPreset, rules, p.Theme, p.EmailNotifications)
	if err != nil {
		return err
	}
	return translate(row.Scan(&p.UpdatedAt))
}
