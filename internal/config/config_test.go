//go:build !integration

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	p := writeYAML(t, `
database:
  url: postgres://localhost/codepolish
auth:
  jwt_secret: dev
`)
	cfg, err := LoadConfig(p, true)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "heuristic", cfg.AI.Polisher)
	assert.Equal(t, 10, cfg.RateLimit.Polish)
	assert.Equal(t, 120, cfg.RateLimit.Query)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.AuthWin)
	assert.Equal(t, "app_session_id", cfg.Auth.CookieName)
	assert.True(t, cfg.Runtime.Dev)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	p := writeYAML(t, `
database:
  url: postgres://yaml/db
auth:
  jwt_secret: dev
`)
	t.Setenv("CODEPOLISH_DATABASE_URL", "postgres://env/db")
	t.Setenv("CODEPOLISH_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadConfig(p, true)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
}

func TestLoadConfig_Validation(t *testing.T) {
	t.Run("missing database", func(t *testing.T) {
		_, err := LoadConfig(writeYAML(t, "auth:\n  jwt_secret: dev\n"), true)
		assert.EqualError(t, err, "database.url is required")
	})
	t.Run("short secret outside dev", func(t *testing.T) {
		_, err := LoadConfig(writeYAML(t, "database:\n  url: x\nauth:\n  jwt_secret: short\n"), false)
		assert.Error(t, err)
	})
	t.Run("llm polisher without keys", func(t *testing.T) {
		_, err := LoadConfig(writeYAML(t, "database:\n  url: x\nauth:\n  jwt_secret: 0123456789abcdef0123456789abcdef\nai:\n  polisher: llm\n"), false)
		assert.Error(t, err)
	})
	t.Run("llm polisher without keys in dev", func(t *testing.T) {
		cfg, err := LoadConfig(writeYAML(t, "database:\n  url: x\nauth:\n  jwt_secret: dev\nai:\n  polisher: llm\n"), true)
		require.NoError(t, err)
		assert.Equal(t, "llm", cfg.AI.Polisher)
	})
	t.Run("billing without webhook secret", func(t *testing.T) {
		_, err := LoadConfig(writeYAML(t, "database:\n  url: x\nauth:\n  jwt_secret: dev\nbilling:\n  stripe_secret_key: sk_test\n"), true)
		assert.Error(t, err)
	})
}
