package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// DefaultSecretKey is the insecure development signing key.
const DefaultSecretKey = "dev-secret-key"

type Config struct {
	// HTTP server
	Port         string        `env:"PORT" envDefault:"5000"`
	SecureCookie bool          `env:"SECURE_COOKIE" envDefault:"false"`
	TemplateDir  string        `env:"TEMPLATE_DIR"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	// Sessions
	SecretKey string `env:"SECRET_KEY" envDefault:"dev-secret-key"`

	// Database
	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite:///budget.db"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real variables win.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// DBPath converts DatabaseURL into a path understood by the sqlite driver.
// Accepted forms: sqlite:///relative.db, sqlite:////abs/path.db,
// sqlite://:memory:, file:..., or a plain path.
func (c *Config) DBPath() string {
	u := c.DatabaseURL
	switch {
	case strings.HasPrefix(u, "sqlite:///"):
		return strings.TrimPrefix(u, "sqlite:///")
	case strings.HasPrefix(u, "sqlite://"):
		return strings.TrimPrefix(u, "sqlite://")
	default:
		return u
	}
}

// InsecureSecret reports whether the development signing key is in use.
func (c *Config) InsecureSecret() bool {
	return c.SecretKey == DefaultSecretKey
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SecretKey == "" {
		errors = append(errors, "secret key cannot be empty")
	}

	if c.DBPath() == "" {
		errors = append(errors, "database path cannot be empty")
	}

	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session ttl %v: must be at least 1 minute", c.SessionTTL))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}
