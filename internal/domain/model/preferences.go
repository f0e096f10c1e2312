package model

import "time"

type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark || t == ThemeSystem
}

// Preferences are per-user dashboard defaults.
type Preferences struct {
	UserID             int64     `json:"userId"`
	DefaultFramework   Framework `json:"defaultFramework"`
	DefaultPreset      Preset    `json:"defaultPreset"`
	CustomRules        *Rules    `json:"customRules"`
	Theme              Theme     `json:"theme"`
	EmailNotifications bool      `json:"emailNotifications"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func DefaultPreferences(userID int64) *Preferences {
	return &Preferences{
		UserID:             userID,
		DefaultFramework:   FrameworkReact,
		DefaultPreset:      PresetStandard,
		Theme:              ThemeSystem,
		EmailNotifications: true,
	}
}
