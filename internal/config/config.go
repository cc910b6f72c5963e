// Package config loads service configuration from the environment and env
// files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	appName      = "local-market-estimator"
	envFileName  = "config.env"
	localEnvFile = ".env.local"

	// PlaceholderAPIKey is the value shipped in example env files.
	PlaceholderAPIKey = "PLACEHOLDER_API_KEY"
)

// ErrMissingAPIKey is returned when GEMINI_API_KEY is unset or still the
// placeholder.
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY is not set")

// Config is the service configuration.
type Config struct {
	GeminiAPIKey    string        `env:"GEMINI_API_KEY"`
	GeminiModel     string        `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	EstimateTimeout time.Duration `env:"ESTIMATE_TIMEOUT" envDefault:"60s"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	MaxSessions     int           `env:"MAX_SESSIONS" envDefault:"1000"`
	BotToken        string        `env:"BOT_TOKEN"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// HasAPIKey reports whether a usable API key is configured.
func (c Config) HasAPIKey() bool {
	key := strings.TrimSpace(c.GeminiAPIKey)
	return key != "" && key != PlaceholderAPIKey
}

// Validate checks the settings the service cannot start without.
func (c Config) Validate() error {
	if !c.HasAPIKey() {
		return ErrMissingAPIKey
	}
	if c.EstimateTimeout <= 0 {
		return fmt.Errorf("ESTIMATE_TIMEOUT must be positive, got %s", c.EstimateTimeout)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be positive, got %d", c.MaxSessions)
	}
	return nil
}

// Level returns the configured log level, defaulting to info.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Dir returns the application's config directory path.
// Creates the directory if it doesn't exist.
func Dir() (string, error) {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}

	configDir := filepath.Join(configBase, appName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// FilePath returns the full path to the user config file.
func FilePath() (string, error) {
	configDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, envFileName), nil
}

// LoadEnvFiles loads .env.local from the working directory and then the
// user config file. Variables already set are not overridden, and missing
// files are ignored.
func LoadEnvFiles() {
	_ = godotenv.Load(localEnvFile)
	if configPath, err := FilePath(); err == nil {
		_ = godotenv.Load(configPath)
	}
}

// WriteEnvFile writes values to path, one quoted assignment per line in
// the given key order. Uses restrictive permissions (0600) since the file
// contains secrets.
func WriteEnvFile(path string, values map[string]string, order []string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	for _, key := range order {
		if val, ok := values[key]; ok {
			if _, err := fmt.Fprintf(f, "%s=%q\n", key, val); err != nil {
				return fmt.Errorf("failed to write %s: %w", key, err)
			}
		}
	}
	return nil
}
