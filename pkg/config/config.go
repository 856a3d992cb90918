package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for convoflow-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional; enables the Redis-backed request tracker)
	Redis RedisConfig `yaml:"redis"`

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Language model configuration
	LLM LLMConfig `yaml:"llm"`

	// Webhook delivery configuration
	Webhook WebhookConfig `yaml:"webhook"`

	// Conversation history configuration
	History HistoryConfig `yaml:"history"`

	// Request tracking configuration
	Tracking TrackingConfig `yaml:"tracking"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"convoflow"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"convoflow_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// URL builds the postgres connection URL from the individual fields.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RedisConfig holds Redis configuration. An empty host disables Redis and
// the request tracker falls back to its in-memory store.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// AuthConfig holds JWT issuance settings.
type AuthConfig struct {
	// Secret signs HS256 access and refresh tokens. Server refuses to start
	// without it unless auth is disabled.
	Secret string `yaml:"-" env:"AUTH_SECRET"` // Secret - not in YAML

	// Enabled controls whether the chat endpoints require a bearer token.
	// Set to false for local development.
	Enabled bool `yaml:"enabled" env:"AUTH_ENABLED" env-default:"true"`

	AccessTokenTTLMinutes int `yaml:"access_token_ttl_minutes" env:"AUTH_ACCESS_TOKEN_TTL_MINUTES" env-default:"30"`
	RefreshTokenTTLDays   int `yaml:"refresh_token_ttl_days" env:"AUTH_REFRESH_TOKEN_TTL_DAYS" env-default:"7"`
}

// LLMConfig holds language model provider settings.
// Provider selects the client implementation; "fast" vs "capable" model
// choice is plain configuration, not engine logic.
type LLMConfig struct {
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"` // openai | anthropic
	Endpoint    string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model       string  `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.7"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"2048"`
}

// WebhookConfig holds callback delivery settings.
type WebhookConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" env:"WEBHOOK_TIMEOUT_SECONDS" env-default:"30"`
	RetryAttempts  int `yaml:"retry_attempts" env:"WEBHOOK_RETRY_ATTEMPTS" env-default:"3"`
	RetryDelayMS   int `yaml:"retry_delay_ms" env:"WEBHOOK_RETRY_DELAY_MS" env-default:"1000"`
	MaxDelayMS     int `yaml:"max_delay_ms" env:"WEBHOOK_MAX_DELAY_MS" env-default:"10000"`
}

// HistoryConfig holds conversation history settings.
type HistoryConfig struct {
	// WindowLimit is how many prior messages are loaded for LLM context.
	WindowLimit int `yaml:"window_limit" env:"HISTORY_WINDOW_LIMIT" env-default:"10"`
}

// TrackingConfig holds webhook request tracking settings.
type TrackingConfig struct {
	// MaxAgeHours is how long completed/failed entries are kept before Sweep
	// removes them.
	MaxAgeHours int `yaml:"max_age_hours" env:"TRACKING_MAX_AGE_HOURS" env-default:"24"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. If config.yaml does not exist, environment variables and
// defaults alone are used.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.Enabled && c.Auth.Secret == "" {
		return fmt.Errorf("AUTH_SECRET must be set when auth is enabled")
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}
	if c.History.WindowLimit < 0 {
		return fmt.Errorf("history window_limit must be non-negative")
	}
	return nil
}
