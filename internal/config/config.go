// Package config loads the camlink configuration from a YAML file, layering
// file values over built-in defaults and validating the result.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Feed    FeedConfig    `yaml:"feed"`
	API     APIConfig     `yaml:"api"`
	Logging LoggingConfig `yaml:"logging"`
}

// FeedConfig configures the camera-feed client.
type FeedConfig struct {
	// URL is the streaming endpoint. When set, the client connects at
	// startup; when empty, streaming waits for an API start request.
	URL string `yaml:"url"`

	// Provider names the feed source in user-facing auth messages.
	Provider string `yaml:"provider"`
}

// APIConfig configures the HTTP status API.
type APIConfig struct {
	Port int `yaml:"port"`

	// TLS serves the API over HTTPS with a self-signed certificate.
	TLS bool `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Feed: FeedConfig{
			Provider: "Server",
		},
		API: APIConfig{
			Port:            8089,
			TLS:             false,
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path and overlays it on the defaults. A missing file is not
// an error; the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d (must be between 1-65535)", c.API.Port)
	}
	if c.API.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid api shutdown_timeout: %v (must be positive)", c.API.ShutdownTimeout)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}

	if c.Feed.URL != "" {
		u, err := url.Parse(c.Feed.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid feed url: %q", c.Feed.URL)
		}
	}
	return nil
}
