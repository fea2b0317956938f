// Package config provides configuration loading using koanf.
// Precedence: environment variables over compiled defaults. Nested keys
// use a double underscore in the environment (TCP__IDLE_WAIT -> tcp.idle_wait).
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/bbqsrc/robust/internal/domain"
)

// Config holds all service configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	// Logging configuration
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	// Message of the day, sent in the welcome frame.
	MOTD string `koanf:"motd"`

	TCP   TCPConfig   `koanf:"tcp"`
	HTTP  HTTPConfig  `koanf:"http"`
	Redis RedisConfig `koanf:"redis"`
	OAuth OAuthConfig `koanf:"oauth"`
	Token TokenConfig `koanf:"token"`
	Auth  AuthConfig  `koanf:"auth"`

	// OpenTelemetry configuration
	OTEL OTELConfig `koanf:"otel"`
}

// TCPConfig holds the relay listener configuration.
type TCPConfig struct {
	Addr     string        `koanf:"addr"`
	IdleWait time.Duration `koanf:"idle_wait"`
	ReadWait time.Duration `koanf:"read_wait"`

	// TLS key pair. Both empty means plain TCP.
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

// HTTPConfig holds the auth callback / WebSocket server configuration.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// RedisConfig holds Redis configuration for the message and user stores.
type RedisConfig struct {
	Addr     string        `koanf:"addr"` // Required
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

// OAuthConfig holds the external identity provider endpoints and consumer
// credentials for the redirect-based auth mode.
type OAuthConfig struct {
	ConsumerKey     string `koanf:"consumer_key"`    // Required when mode enabled
	ConsumerSecret  string `koanf:"consumer_secret"` // Required when mode enabled
	RequestTokenURL string `koanf:"request_token_url"`
	AuthorizeURL    string `koanf:"authorize_url"`
	VerifyURL       string `koanf:"verify_url"`

	// CallbackBase is the externally reachable base URL of this server's
	// HTTP endpoint, embedded in challenge redirect URLs.
	CallbackBase string `koanf:"callback_base"`
}

// TokenConfig holds the signing secret for the token auth mode.
type TokenConfig struct {
	Secret string `koanf:"secret"` // Required when mode enabled
}

// AuthConfig holds challenge policy and the advertised auth option table.
type AuthConfig struct {
	Modes        []string      `koanf:"modes"`
	ChallengeTTL time.Duration `koanf:"challenge_ttl"`
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint string `koanf:"endpoint"` // Empty disables OTLP export
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",
		MOTD:        domain.DefaultMOTD,

		TCP: TCPConfig{
			Addr:     "127.0.0.1:8889",
			IdleWait: domain.DefaultIdleWait,
			ReadWait: domain.DefaultReadWait,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8888",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			DB:      0,
			Timeout: domain.RedisTimeout,
		},
		OAuth: OAuthConfig{
			CallbackBase: "http://127.0.0.1:8888",
		},
		Auth: AuthConfig{
			Modes:        []string{"oauth", "token"},
			ChallengeTTL: domain.DefaultChallengeTTL,
		},
	}
}

// Load loads configuration: environment variables over compiled defaults.
// Required keys missing in prod cause a startup failure; optional keys
// fall back to defaults.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	// Start with compiled defaults
	cfg := defaults()

	// Load environment variables. Double underscore maps to the nesting
	// delimiter so multi-word leaf keys survive (TCP__IDLE_WAIT).
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	// Unmarshal into config struct
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Validate required fields
	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateRequired checks that required configuration is present.
func validateRequired(cfg *Config) error {
	// In local environment, everything has a usable default.
	if cfg.Environment == "local" {
		return nil
	}

	if cfg.Environment == "prod" {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
		}
		if cfg.ModeEnabled("oauth") {
			if cfg.OAuth.ConsumerKey == "" {
				return fmt.Errorf("%w: oauth.consumer_key", domain.ErrConfigRequired)
			}
			if cfg.OAuth.ConsumerSecret == "" {
				return fmt.Errorf("%w: oauth.consumer_secret", domain.ErrConfigRequired)
			}
		}
		if cfg.ModeEnabled("token") && cfg.Token.Secret == "" {
			return fmt.Errorf("%w: token.secret", domain.ErrConfigRequired)
		}
	}

	return nil
}

// ModeEnabled reports whether the named auth mode is enabled.
func (c *Config) ModeEnabled(mode string) bool {
	for _, m := range c.Auth.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
