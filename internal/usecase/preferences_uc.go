package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/repository"
	"codepolish/internal/infra/logging"
)

var _ PreferencesUseCase = (*preferencesUC)(nil)

// PreferencesPatch carries only the fields a caller wants to change.
type PreferencesPatch struct {
	DefaultFramework   *model.Framework `json:"defaultFramework"`
	DefaultPreset      *model.Preset    `json:"defaultPreset"`
	CustomRules        *model.Rules     `json:"customRules"`
	Theme              *model.Theme     `json:"theme"`
	EmailNotifications *bool            `json:"emailNotifications"`
}

type PreferencesUseCase interface {
	Get(ctx context.Context, userID int64) (*model.Preferences, error)
	Update(ctx context.Context, userID int64, patch PreferencesPatch) (*model.Preferences, error)
}

type preferencesUC struct {
	prefs repository.PreferencesRepository
	log   *zerolog.Logger
}

func NewPreferencesUseCase(prefs repository.PreferencesRepository, logger *zerolog.Logger) *preferencesUC {
	return &preferencesUC{prefs: prefs, log: logger}
}

func (u *preferencesUC) Get(ctx context.Context, userID int64) (*model.Preferences, error) {
	defer logging.TraceDuration(u.log, "PreferencesUC.Get")()
	p, err := u.prefs.Get(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return model.DefaultPreferences(userID), nil
	}
	return p, err
}

func (u *preferencesUC) Update(ctx context.Context, userID int64, patch PreferencesPatch) (*model.Preferences, error) {
	defer logging.TraceDuration(u.log, "PreferencesUC.Update")()

	p, err := u.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if patch.DefaultFramework != nil {
		if !patch.DefaultFramework.Valid() {
			return nil, domain.Invalid("unknown framework %q", *patch.DefaultFramework)
		}
		p.DefaultFramework = *patch.DefaultFramework
	}
	if patch.DefaultPreset != nil {
		if !patch.DefaultPreset.Valid() {
			return nil, domain.Invalid("unknown preset %q", *patch.DefaultPreset)
		}
		p.DefaultPreset = *patch.DefaultPreset
	}
	if patch.Theme != nil {
		if !patch.Theme.Valid() {
			return nil, domain.Invalid("unknown theme %q", *patch.Theme)
		}
		p.Theme = *patch.Theme
	}
	if patch.CustomRules != nil {
		r := *patch.CustomRules
		p.CustomRules = &r
	}
	if patch.EmailNotifications != nil {
		p.EmailNotifications = *patch.EmailNotifications
	}
	p.UpdatedAt = time.Now()
	if err := u.prefs.Save(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	return p, nil
}
