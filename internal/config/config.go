// Package config loads the gateway's static process configuration (§6):
// listen address, timeouts, the admin API key, and request-log settings.
// Dynamic provider/credential configuration (the Versioned Config of §4.1)
// is a separate concern loaded from Postgres by internal/store, not by
// this package.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the gateway's static process configuration, populated from an
// optional YAML file plus environment variable overrides per §6.
type Config struct {
	Host               string `koanf:"host"`
	Port               int    `koanf:"port"`
	VerifySSL          bool   `koanf:"verify_ssl"`
	RequestTimeoutSecs int    `koanf:"request_timeout_secs"`
	AdminKey           string `koanf:"admin_key"`
	ProviderSuffix     string `koanf:"provider_suffix"`

	// DBURL is the Postgres connection string backing the Versioned
	// Config (§3/§4.1). Required — the gateway cannot serve requests
	// without a config store to read providers/credentials from.
	DBURL string `koanf:"db_url"`

	JSONLLogEnabled       bool   `koanf:"jsonl_log_enabled"`
	JSONLLogPath          string `koanf:"jsonl_log_path"`
	JSONLLogBufferSize    int    `koanf:"jsonl_log_buffer_size"`
	RequestLogBodyEnabled bool   `koanf:"request_log_body_enabled"`
}

// RequestTimeout returns RequestTimeoutSecs as a time.Duration, for
// constructing context deadlines and the shared http.Client's timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

func defaults() Config {
	return Config{
		Host:                  "0.0.0.0",
		Port:                  8080,
		VerifySSL:             true,
		RequestTimeoutSecs:    300,
		ProviderSuffix:        "",
		JSONLLogEnabled:       false,
		JSONLLogPath:          "requests.jsonl",
		JSONLLogBufferSize:    1000,
		RequestLogBodyEnabled: false,
	}
}

// Load reads defaults, layers an optional YAML file on top (an empty path
// skips the file; a non-empty path that cannot be loaded, including a
// nonexistent file, is an error), then layers
// environment variable overrides, and validates that DB_URL was supplied.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")
	cfg := defaults()

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	// Environment variables are the gateway's primary configuration
	// surface per §6 — named directly after the struct's koanf tags
	// (HOST, PORT, DB_URL, JSONL_LOG_ENABLED, ...), no prefix.
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling env vars: %w", err)
	}

	if cfg.DBURL == "" {
		return nil, fmt.Errorf("config: DB_URL is required")
	}
	return &cfg, nil
}
