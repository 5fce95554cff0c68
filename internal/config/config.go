package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                    int           `env:"PORT" envDefault:"8080"`
	DatabaseURL             string        `env:"DATABASE_URL,required"`
	RedisURL                string        `env:"REDIS_URL,required"`
	APIKeyHash              string        `env:"API_KEY_HASH"`
	EncryptionKey           string        `env:"ENCRYPTION_KEY"`
	LogLevel                string        `env:"LOG_LEVEL" envDefault:"info"`
	MaxSessions             int           `env:"MAX_SESSIONS" envDefault:"10"`
	ConnectorURL            string        `env:"CONNECTOR_URL" envDefault:"ws://localhost:3001"`
	ConnectorDestroyTimeout time.Duration `env:"CONNECTOR_DESTROY_TIMEOUT" envDefault:"10s"`
	WebhookTimeout          time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	WebhookMaxAttempts      int           `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"3"`
	WebhookInitialBackoff   time.Duration `env:"WEBHOOK_INITIAL_BACKOFF" envDefault:"1s"`
	WebhookMaxBackoff       time.Duration `env:"WEBHOOK_MAX_BACKOFF" envDefault:"30s"`
	EventRetentionDays      int           `env:"EVENT_RETENTION_DAYS" envDefault:"30"`
	DashboardDir            string        `env:"DASHBOARD_DIR" envDefault:"static/dashboard"`
	RunMigrations           bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionDays) * 24 * time.Hour
}

// Validate reports every invalid setting at once.
func (c *Config) Validate(isProduction bool) error {
	var result error

	if c.Port < 1 || c.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.MaxSessions < 1 {
		result = multierror.Append(result, fmt.Errorf("MAX_SESSIONS must be positive, got %d", c.MaxSessions))
	}
	if c.WebhookMaxAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be at least 1, got %d", c.WebhookMaxAttempts))
	}
	if c.WebhookTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("WEBHOOK_TIMEOUT must be greater than 0"))
	}
	if c.WebhookInitialBackoff <= 0 {
		result = multierror.Append(result, fmt.Errorf("WEBHOOK_INITIAL_BACKOFF must be greater than 0"))
	}
	if c.WebhookMaxBackoff < c.WebhookInitialBackoff {
		result = multierror.Append(result, fmt.Errorf("WEBHOOK_MAX_BACKOFF must be greater than or equal to WEBHOOK_INITIAL_BACKOFF"))
	}
	if c.EventRetentionDays < 1 {
		result = multierror.Append(result, fmt.Errorf("EVENT_RETENTION_DAYS must be positive, got %d", c.EventRetentionDays))
	}

	if u, err := url.Parse(c.ConnectorURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		result = multierror.Append(result, fmt.Errorf("CONNECTOR_URL must be a ws:// or wss:// URL, got %q", c.ConnectorURL))
	}

	if c.APIKeyHash != "" {
		if b, err := hex.DecodeString(c.APIKeyHash); err != nil || len(b) != 32 {
			result = multierror.Append(result, fmt.Errorf("API_KEY_HASH must be a sha256 hex digest (generate with: printf %%s <key> | sha256sum)"))
		}
	}
	if c.EncryptionKey != "" {
		if b, err := hex.DecodeString(c.EncryptionKey); err != nil || len(b) != 32 {
			result = multierror.Append(result, fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (generate with: openssl rand -hex 32)"))
		}
	}

	if isProduction {
		if c.APIKeyHash == "" {
			result = multierror.Append(result, fmt.Errorf("API_KEY_HASH is required in production"))
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.EncryptionKey == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: webhook secrets will not be encrypted at rest")
		}
	}

	return result
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
