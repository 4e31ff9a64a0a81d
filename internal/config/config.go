package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "INFERENCE"

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port" envconfig:"PORT"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

type LogConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`   // trace|debug|info|warn|error
	Format   string `yaml:"format" envconfig:"FORMAT"` // json|console
	Sampling bool   `yaml:"sampling" envconfig:"SAMPLING"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url" envconfig:"URL"`
	MaxConns int32  `yaml:"max_conns" envconfig:"MAX_CONNS"`
}

type RedisConfig struct {
	URL      string        `yaml:"url" envconfig:"URL"`
	Password string        `yaml:"password" envconfig:"PASSWORD"`
	DB       int           `yaml:"db" envconfig:"DB"`
	TTL      time.Duration `yaml:"ttl" envconfig:"TTL"`
}

// ModelConfig maps a logical model id onto a backend and a concrete identifier.
type ModelConfig struct {
	Provider         string `yaml:"provider"` // replicate | openai | gemini
	Version          string `yaml:"version"`  // e.g. owner/model:rev for replicate
	TaskType         string `yaml:"task_type"`
	DefaultPrompt    string `yaml:"default_prompt"`
	ComplexityPrompt string `yaml:"complexity_prompt"`
}

type ProviderConfig struct {
	ReplicateToken   string        `yaml:"replicate_token" envconfig:"REPLICATE_TOKEN"`
	ReplicateBaseURL string        `yaml:"replicate_base_url" envconfig:"REPLICATE_BASE_URL"`
	OpenAIKey        string        `yaml:"openai_key" envconfig:"OPENAI_KEY"`
	GeminiKey        string        `yaml:"gemini_key" envconfig:"GEMINI_KEY"`
	HTTPTimeout      time.Duration `yaml:"http_timeout" envconfig:"HTTP_TIMEOUT"`
	MaxRetries       int           `yaml:"max_retries" envconfig:"MAX_RETRIES"`
	BackoffBase      time.Duration `yaml:"backoff_base" envconfig:"BACKOFF_BASE"`
	MaxConcurrent    int           `yaml:"max_concurrent" envconfig:"MAX_CONCURRENT"` // synchronous analysis calls per backend

	Models map[string]ModelConfig `yaml:"models" ignored:"true"`
}

type WebhookConfig struct {
	Secret  string `yaml:"secret" envconfig:"SECRET"`
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`
}

type PollingConfig struct {
	Interval time.Duration `yaml:"interval" envconfig:"INTERVAL"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

type SweeperConfig struct {
	Interval   time.Duration `yaml:"interval" envconfig:"INTERVAL"`
	StaleAfter time.Duration `yaml:"stale_after" envconfig:"STALE_AFTER"`
	Workers    int           `yaml:"workers" envconfig:"WORKERS"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" envconfig:"JWT_SECRET"`
}

type RateLimitConfig struct {
	SubmitPerMinute int `yaml:"submit_per_minute" envconfig:"SUBMIT_PER_MINUTE"`
}

type AlertConfig struct {
	TelegramToken  string  `yaml:"telegram_token" envconfig:"TELEGRAM_TOKEN"`
	TelegramChatID []int64 `yaml:"telegram_chat_ids" envconfig:"TELEGRAM_CHAT_IDS"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Provider  ProviderConfig  `yaml:"provider"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Polling   PollingConfig   `yaml:"polling"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Alert     AlertConfig     `yaml:"alert"`

	Runtime RuntimeConfig `yaml:"-" ignored:"true"`
}

// LoadConfig reads the YAML file at path (optional when every required value
// comes from the environment), loads a .env file if present and applies
// environment overrides named INFERENCE_<SECTION>_<KEY>, e.g.
// INFERENCE_WEBHOOK_SECRET or INFERENCE_PROVIDER_REPLICATE_TOKEN.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// env-only deployment
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	_ = godotenv.Load()
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Provider.ReplicateBaseURL == "" {
		cfg.Provider.ReplicateBaseURL = "https://api.replicate.com/v1"
	}
	if cfg.Provider.HTTPTimeout <= 0 {
		cfg.Provider.HTTPTimeout = 30 * time.Second
	}
	if cfg.Provider.MaxRetries <= 0 {
		cfg.Provider.MaxRetries = 3
	}
	if cfg.Provider.BackoffBase <= 0 {
		cfg.Provider.BackoffBase = time.Second
	}
	if cfg.Provider.MaxConcurrent <= 0 {
		cfg.Provider.MaxConcurrent = 8
	}
	if cfg.Polling.Interval <= 0 {
		cfg.Polling.Interval = 2 * time.Second
	}
	if cfg.Polling.Timeout <= 0 {
		cfg.Polling.Timeout = 2 * time.Minute
	}
	if cfg.Sweeper.Interval <= 0 {
		cfg.Sweeper.Interval = time.Minute
	}
	if cfg.Sweeper.StaleAfter <= 0 {
		cfg.Sweeper.StaleAfter = 10 * time.Minute
	}
	if cfg.Sweeper.Workers <= 0 {
		cfg.Sweeper.Workers = 4
	}
	if cfg.RateLimit.SubmitPerMinute <= 0 {
		cfg.RateLimit.SubmitPerMinute = 30
	}
	cfg.Webhook.BaseURL = strings.TrimRight(cfg.Webhook.BaseURL, "/")
}

// Validate rejects configurations the service must not start with. A missing
// webhook secret is fatal: unsigned callbacks are never accepted.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Webhook.Secret == "" {
		return errors.New("webhook.secret is required")
	}
	if c.Webhook.BaseURL == "" {
		return errors.New("webhook.base_url is required")
	}
	if c.Provider.ReplicateToken == "" {
		return errors.New("provider.replicate_token is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	for id, m := range c.Provider.Models {
		if m.Provider == "" || m.Version == "" {
			return fmt.Errorf("provider.models.%s: provider and version are required", id)
		}
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
