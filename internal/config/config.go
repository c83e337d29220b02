// Package config loads the server's settings from the environment.
//
// An optional .env file is read first; variables already set in the
// environment win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every setting the server and tools need.
type Config struct {
	Port   int    `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"data/fleetchat.db"`

	JWTSecret  string        `env:"JWT_SECRET"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"168h"`

	// LoginDomain builds the provider handle "<username>@<domain>".
	LoginDomain string `env:"LOGIN_DOMAIN" envDefault:"fleetcom7.com"`
	// UsernameClaims turns on the claim table that makes registration of the
	// same username race-free. Off reproduces check-then-write.
	UsernameClaims bool `env:"USERNAME_CLAIMS" envDefault:"true"`
	// SpoofAccountID always gets "Sent from iPhone".
	SpoofAccountID string `env:"SPOOF_ACCOUNT_ID"`
	// DisplayTZ is used when a request names no time zone.
	DisplayTZ string `env:"DISPLAY_TZ" envDefault:"UTC"`

	Google OAuthConfig `envPrefix:"GOOGLE_"`
	GitHub OAuthConfig `envPrefix:"GITHUB_"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// OAuthConfig is one federated provider. It is enabled when both the client
// ID and secret are set.
type OAuthConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	CallbackURL  string `env:"CALLBACK_URL"`
}

// Enabled reports whether the provider has credentials.
func (c OAuthConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Load reads dotenvPath (if it exists) and parses the environment.
func Load(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: loading %s: %w", dotenvPath, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("config: SESSION_TTL must be positive")
	}
	if _, err := time.LoadLocation(c.DisplayTZ); err != nil {
		return fmt.Errorf("config: DISPLAY_TZ %q: %w", c.DisplayTZ, err)
	}
	return nil
}

// Location returns the default display time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CallbackURL returns the provider's callback, defaulting to this server.
func (c *Config) CallbackURL(o OAuthConfig, provider string) string {
	if o.CallbackURL != "" {
		return o.CallbackURL
	}
	return fmt.Sprintf("http://localhost:%d/auth/%s/callback", c.Port, provider)
}

// Level maps LOG_LEVEL to a slog level; unknown values mean info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
