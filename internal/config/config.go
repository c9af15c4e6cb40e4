// Package config loads server settings from the environment and an optional
// .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/smartslot/smartslot/internal/domain/queue"
	"github.com/smartslot/smartslot/internal/domain/triage"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS"`

	StoreDriver       string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema          string        `mapstructure:"DB_SCHEMA"`
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	SnapshotKey       string        `mapstructure:"REDIS_KEY"`
	SQLitePath        string        `mapstructure:"SQLITE_PATH"`
	StoreTimeout      time.Duration `mapstructure:"STORE_TIMEOUT"`
	StoreSaveAttempts int           `mapstructure:"STORE_SAVE_ATTEMPTS"`

	Classifier         string        `mapstructure:"CLASSIFIER"`
	ClassifierFallback string        `mapstructure:"CLASSIFIER_FALLBACK"`
	ClassifierTimeout  time.Duration `mapstructure:"CLASSIFIER_TIMEOUT"`
	GeminiAPIKey       string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel        string        `mapstructure:"GEMINI_MODEL"`
	GeminiEndpoint     string        `mapstructure:"GEMINI_ENDPOINT"`

	WaitBaseMinutes      float64 `mapstructure:"WAIT_BASE_MINUTES"`
	WaitMultiplierHigh   float64 `mapstructure:"WAIT_MULTIPLIER_HIGH"`
	WaitMultiplierMedium float64 `mapstructure:"WAIT_MULTIPLIER_MEDIUM"`
	WaitMultiplierLow    float64 `mapstructure:"WAIT_MULTIPLIER_LOW"`

	NATSURL     string `mapstructure:"NATS_URL"`
	NATSSubject string `mapstructure:"NATS_SUBJECT"`

	WebhookTimeout     time.Duration `mapstructure:"WEBHOOK_TIMEOUT"`
	WebhookMaxAttempts int           `mapstructure:"WEBHOOK_MAX_ATTEMPTS"`
	WebhookQueueSize   int           `mapstructure:"WEBHOOK_QUEUE_SIZE"`

	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV",
	"LOG_LEVEL", "LOG_FILE", "LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS", "LOG_MAX_AGE_DAYS",
	"STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA", "MIGRATIONS_DIR",
	"REDIS_URL", "REDIS_KEY", "SQLITE_PATH", "STORE_TIMEOUT", "STORE_SAVE_ATTEMPTS",
	"CLASSIFIER", "CLASSIFIER_FALLBACK", "CLASSIFIER_TIMEOUT",
	"GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_ENDPOINT",
	"WAIT_BASE_MINUTES", "WAIT_MULTIPLIER_HIGH", "WAIT_MULTIPLIER_MEDIUM", "WAIT_MULTIPLIER_LOW",
	"NATS_URL", "NATS_SUBJECT",
	"WEBHOOK_TIMEOUT", "WEBHOOK_MAX_ATTEMPTS", "WEBHOOK_QUEUE_SIZE",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT", "SHUTDOWN_TIMEOUT",
}

func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 30)
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("REDIS_KEY", "smartslot_queue")
	v.SetDefault("SQLITE_PATH", "smartslot.db")
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("STORE_SAVE_ATTEMPTS", 3)
	v.SetDefault("CLASSIFIER", "rules")
	v.SetDefault("CLASSIFIER_FALLBACK", "rules")
	v.SetDefault("CLASSIFIER_TIMEOUT", "8s")
	v.SetDefault("GEMINI_MODEL", "gemini-pro")
	v.SetDefault("GEMINI_ENDPOINT", triage.DefaultGeminiEndpoint)
	v.SetDefault("WAIT_BASE_MINUTES", 15)
	v.SetDefault("WAIT_MULTIPLIER_HIGH", 0.5)
	v.SetDefault("WAIT_MULTIPLIER_MEDIUM", 0.8)
	v.SetDefault("WAIT_MULTIPLIER_LOW", 1.0)
	v.SetDefault("NATS_SUBJECT", "smartslot")
	v.SetDefault("WEBHOOK_TIMEOUT", "10s")
	v.SetDefault("WEBHOOK_MAX_ATTEMPTS", 3)
	v.SetDefault("WEBHOOK_QUEUE_SIZE", 256)
	v.SetDefault("AUTH_ISSUER", "smartslot")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")

	for _, k := range keys {
		v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.Classifier = strings.ToLower(strings.TrimSpace(cfg.Classifier))
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks the settings needed by the selected store and classifier.
// Outside development a signing key is mandatory so staff routes are gated.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", c.StoreDriver)
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_DRIVER is %q", c.StoreDriver)
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", c.StoreDriver)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres, redis, sqlite or memory, got %q", c.StoreDriver)
	}
	if c.StoreSaveAttempts < 1 {
		return fmt.Errorf("STORE_SAVE_ATTEMPTS must be at least 1, got %d", c.StoreSaveAttempts)
	}

	switch c.Classifier {
	case "rules":
	case "ai":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when CLASSIFIER is \"ai\"")
		}
	default:
		return fmt.Errorf("CLASSIFIER must be rules or ai, got %q", c.Classifier)
	}
	if _, err := triage.ParseFallbackPolicy(c.ClassifierFallback); err != nil {
		return err
	}

	if err := c.WaitConfig().Validate(); err != nil {
		return err
	}

	if !c.IsDev() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY of at least 32 bytes is required outside development (ENV=%q)", c.Env)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	return nil
}

// WaitConfig returns the wait-time constants.
func (c *Config) WaitConfig() queue.WaitConfig {
	return queue.WaitConfig{
		BaseMinutes:      c.WaitBaseMinutes,
		HighMultiplier:   c.WaitMultiplierHigh,
		MediumMultiplier: c.WaitMultiplierMedium,
		LowMultiplier:    c.WaitMultiplierLow,
	}
}
