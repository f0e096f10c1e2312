// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"CODEPOLISH_HTTP_ADDR"`
	PublicURL       string        `yaml:"public_url" env:"CODEPOLISH_PUBLIC_URL"`       // base used for OAuth and checkout redirects
	DashboardURL    string        `yaml:"dashboard_url" env:"CODEPOLISH_DASHBOARD_URL"` // where the callback lands
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"CODEPOLISH_ALLOWED_ORIGINS" envSeparator:","`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustProxy      bool          `yaml:"trust_proxy" env:"CODEPOLISH_TRUST_PROXY"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"CODEPOLISH_LOG_LEVEL"`   // trace|debug|info|warn|error
	Format   string `yaml:"format" env:"CODEPOLISH_LOG_FORMAT"` // json|console
	Sampling bool   `yaml:"sampling"`                          // enable sampling in prod
}

type DatabaseConfig struct {
	URL           string `yaml:"url" env:"CODEPOLISH_DATABASE_URL"`
	MaxConns      int32  `yaml:"max_conns"`
	RunMigrations bool   `yaml:"run_migrations" env:"CODEPOLISH_RUN_MIGRATIONS"`
}

// RedisConfig is optional. An empty URL keeps caches and rate-limit counters in process memory.
type RedisConfig struct {
	URL      string        `yaml:"url" env:"CODEPOLISH_REDIS_URL"`
	Password string        `yaml:"password" env:"CODEPOLISH_REDIS_PASSWORD"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type OAuthConfig struct {
	Provider     string   `yaml:"provider"` // github | generic
	ClientID     string   `yaml:"client_id" env:"CODEPOLISH_OAUTH_CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"CODEPOLISH_OAUTH_CLIENT_SECRET"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"user_info_url"`
	Scopes       []string `yaml:"scopes"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" env:"CODEPOLISH_JWT_SECRET"`
	CookieName string        `yaml:"cookie_name"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	Secure     bool          `yaml:"secure_cookie"`
	OAuth      OAuthConfig   `yaml:"oauth"`
}

type AIConfig struct {
	Polisher        string        `yaml:"polisher" env:"CODEPOLISH_POLISHER"` // heuristic | llm
	Provider        string        `yaml:"provider" env:"CODEPOLISH_AI_PROVIDER"`
	OpenAIKey       string        `yaml:"openai_key" env:"CODEPOLISH_OPENAI_KEY"`
	OpenAIBaseURL   string        `yaml:"openai_base_url" env:"CODEPOLISH_OPENAI_BASE_URL"`
	GeminiKey       string        `yaml:"gemini_key" env:"CODEPOLISH_GEMINI_KEY"`
	DefaultModel    string        `yaml:"default_model" env:"CODEPOLISH_AI_MODEL"`
	ConcurrentLimit int           `yaml:"concurrent_limit"` // max concurrent AI calls
	Timeout         time.Duration `yaml:"timeout"`
	MaxPromptTokens int           `yaml:"max_prompt_tokens"`
}

type BillingConfig struct {
	StripeSecretKey     string            `yaml:"stripe_secret_key" env:"CODEPOLISH_STRIPE_SECRET_KEY"`
	StripeWebhookSecret string            `yaml:"stripe_webhook_secret" env:"CODEPOLISH_STRIPE_WEBHOOK_SECRET"`
	PriceIDs            map[string]string `yaml:"price_ids"` // plan id -> stripe price id
	SuccessPath         string            `yaml:"success_path"`
	CancelPath          string            `yaml:"cancel_path"`
}

// Enabled reports whether checkout and webhooks can be served.
func (b BillingConfig) Enabled() bool { return b.StripeSecretKey != "" }

type WorkerConfig struct {
	PoolSize           int           `yaml:"pool_size" env:"CODEPOLISH_WORKERS"`
	QueueSize          int           `yaml:"queue_size"`
	JobTimeout         time.Duration `yaml:"job_timeout"`
	DispatchInterval   time.Duration `yaml:"dispatch_interval"`
	PendingGrace       time.Duration `yaml:"pending_grace"`
	StuckAfter         time.Duration `yaml:"stuck_after"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	PeriodRollInterval time.Duration `yaml:"period_roll_interval"`
}

type RateLimitConfig struct {
	Polish   int           `yaml:"polish"`
	Mutation int           `yaml:"mutation"`
	Query    int           `yaml:"query"`
	Auth     int           `yaml:"auth"`
	Window   time.Duration `yaml:"window"`
	AuthWin  time.Duration `yaml:"auth_window"`
	Shared   bool          `yaml:"shared"` // count in redis when configured
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	AI        AIConfig        `yaml:"ai"`
	Billing   BillingConfig   `yaml:"billing"`
	Worker    WorkerConfig    `yaml:"worker"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path (optional when every required value
// comes from the environment), then applies .env and CODEPOLISH_* overrides.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.PublicURL == "" {
		cfg.HTTP.PublicURL = "http://localhost:8080"
	}
	if cfg.HTTP.DashboardURL == "" {
		cfg.HTTP.DashboardURL = cfg.HTTP.PublicURL + "/dashboard"
	}
	cfg.HTTP.RequestTimeout = orDuration(cfg.HTTP.RequestTimeout, 30*time.Second)
	cfg.HTTP.ShutdownTimeout = orDuration(cfg.HTTP.ShutdownTimeout, 15*time.Second)

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 20
	}
	cfg.Redis.TTL = orDuration(cfg.Redis.TTL, time.Hour)

	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "app_session_id"
	}
	cfg.Auth.SessionTTL = orDuration(cfg.Auth.SessionTTL, 365*24*time.Hour)
	if cfg.Auth.OAuth.Provider == "" {
		cfg.Auth.OAuth.Provider = "github"
	}

	if cfg.AI.Polisher == "" {
		cfg.AI.Polisher = "heuristic"
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "openai"
	}
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	cfg.AI.Timeout = orDuration(cfg.AI.Timeout, 2*time.Minute)
	if cfg.AI.MaxPromptTokens <= 0 {
		cfg.AI.MaxPromptTokens = 120000
	}

	if cfg.Billing.SuccessPath == "" {
		cfg.Billing.SuccessPath = "/dashboard?checkout=success"
	}
	if cfg.Billing.CancelPath == "" {
		cfg.Billing.CancelPath = "/pricing?checkout=cancelled"
	}

	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 8
	}
	if cfg.Worker.QueueSize <= 0 {
		cfg.Worker.QueueSize = 256
	}
	cfg.Worker.JobTimeout = orDuration(cfg.Worker.JobTimeout, 3*time.Minute)
	cfg.Worker.DispatchInterval = orDuration(cfg.Worker.DispatchInterval, 5*time.Second)
	cfg.Worker.PendingGrace = orDuration(cfg.Worker.PendingGrace, 30*time.Second)
	cfg.Worker.StuckAfter = orDuration(cfg.Worker.StuckAfter, 10*time.Minute)
	cfg.Worker.SweepInterval = orDuration(cfg.Worker.SweepInterval, time.Minute)
	cfg.Worker.PeriodRollInterval = orDuration(cfg.Worker.PeriodRollInterval, 10*time.Minute)

	if cfg.RateLimit.Polish <= 0 {
		cfg.RateLimit.Polish = 10
	}
	if cfg.RateLimit.Mutation <= 0 {
		cfg.RateLimit.Mutation = 30
	}
	if cfg.RateLimit.Query <= 0 {
		cfg.RateLimit.Query = 120
	}
	if cfg.RateLimit.Auth <= 0 {
		cfg.RateLimit.Auth = 10
	}
	cfg.RateLimit.Window = orDuration(cfg.RateLimit.Window, time.Minute)
	cfg.RateLimit.AuthWin = orDuration(cfg.RateLimit.AuthWin, 15*time.Minute)
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 && !c.Runtime.Dev {
		return errors.New("auth.jwt_secret must be at least 32 bytes")
	}
	switch c.AI.Polisher {
	case "heuristic":
	case "llm":
		// dev runs fall back to a canned model
		if c.AI.OpenAIKey == "" && c.AI.GeminiKey == "" && !c.Runtime.Dev {
			return errors.New("ai.openai_key or ai.gemini_key is required for the llm polisher")
		}
	default:
		return fmt.Errorf("ai.polisher must be heuristic or llm, got %q", c.AI.Polisher)
	}
	if c.Billing.Enabled() && c.Billing.StripeWebhookSecret == "" {
		return errors.New("billing.stripe_webhook_secret is required when billing is enabled")
	}
	return nil
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
