package repository

import (
	"context"

	"codepolish/internal/domain/model"
)

type PreferencesRepository interface {
	// Get returns ErrNotFound when the user never saved preferences.
	Get(ctx context.Context, tx Tx, userID int64) (*model.Preferences, error)
	Save(ctx context.Context, tx Tx, p *model.Preferences) error
}
