// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

// Package config loads gateway configuration with Koanf v2 from layered
// sources: built-in defaults, an optional YAML file, then environment
// variables. Precedence: ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the environment variable overriding the config
// file location.
const ConfigPathEnvVar = "VEILGATE_CONFIG"

// envPrefix is stripped from environment variables before mapping them to
// config paths: VEILGATE_SERVER_PORT -> server.port.
const envPrefix = "VEILGATE_"

// DefaultConfigPaths are searched in order when VEILGATE_CONFIG is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"/etc/veilgate/config.yaml",
}

// Config holds all gateway configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Geo       GeoConfig       `koanf:"geo"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"min=1s"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"min=1s"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=1s"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path         string        `koanf:"path" validate:"required"`
	LogRetention time.Duration `koanf:"log_retention" validate:"min=1h"`
}

// GeoConfig configures the geolocation resolver.
type GeoConfig struct {
	// Enabled toggles provider lookups. When false every public IP
	// resolves to the unknown record and country filters are inert.
	Enabled bool `koanf:"enabled"`
}

// TelemetryConfig configures the asynchronous access-log writer.
type TelemetryConfig struct {
	QueueSize int `koanf:"queue_size" validate:"min=1"`
}

// RateLimitConfig configures the gate route rate limiter, a coarse outer
// shield in front of the per-destination throttle.
type RateLimitConfig struct {
	Requests int           `koanf:"requests" validate:"min=1"`
	Window   time.Duration `koanf:"window" validate:"min=1s"`
	Disabled bool          `koanf:"disabled"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns built-in defaults suitable for local development.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:         "data/veilgate.db",
			LogRetention: 30 * 24 * time.Hour,
		},
		Geo: GeoConfig{
			Enabled: true,
		},
		Telemetry: TelemetryConfig{
			QueueSize: 4096,
		},
		RateLimit: RateLimitConfig{
			Requests: 100,
			Window:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// findConfigFile returns the first existing config file, or empty string.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps VEILGATE_SECTION_KEY to section.key. Only single
// underscores separate path segments; keys with embedded underscores
// (read_timeout, queue_size) are resolved by trying the two-segment split
// first.
//
//	VEILGATE_SERVER_PORT          -> server.port
//	VEILGATE_SERVER_READ_TIMEOUT  -> server.read_timeout
//	VEILGATE_DATABASE_PATH        -> database.path
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return key
	}
	section, rest := parts[0], parts[1]
	if section == "rate" {
		// rate_limit is the only two-word section
		sub := strings.SplitN(rest, "_", 2)
		if len(sub) == 2 && sub[0] == "limit" {
			return "rate_limit." + sub[1]
		}
	}
	return section + "." + rest
}
