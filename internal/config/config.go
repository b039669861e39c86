// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

// Package config loads service configuration from a YAML file and
// command-line flags. Flags take precedence over the file, and the file
// over built-in defaults.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the full service configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Lockout  LockoutConfig  `koanf:"lockout"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// AuthConfig configures the token issuers and refresh ledger. Primary and
// portal secrets must differ; the two trust domains never share signing
// state.
type AuthConfig struct {
	Secret                string        `koanf:"secret"`
	PortalSecret          string        `koanf:"portal_secret"`
	Issuer                string        `koanf:"issuer"`
	AccessTokenTTL        time.Duration `koanf:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `koanf:"refresh_token_ttl"`
	RevokeSiblingsOnReuse bool          `koanf:"revoke_siblings_on_reuse"`
}

// LockoutConfig configures the lockout guard.
type LockoutConfig struct {
	Threshold    int           `koanf:"threshold"`
	Window       time.Duration `koanf:"window"`
	LockDuration time.Duration `koanf:"lock_duration"`
}

// MetricsConfig configures the observability server.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format"` // json or text
	Level  string `koanf:"level"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		Auth: AuthConfig{
			Issuer:          "gatewarden",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 30 * 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Threshold:    5,
			Window:       15 * time.Minute,
			LockDuration: 15 * time.Minute,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9100",
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// an optional flag set, in increasing precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_FILE_FAILED").
				With("path", path).
				Wrap(err)
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for fatal misconfigurations.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}
	if len(c.Auth.Secret) < 32 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.secret must be at least 32 bytes")
	}
	if len(c.Auth.PortalSecret) < 32 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.portal_secret must be at least 32 bytes")
	}
	if c.Auth.Secret == c.Auth.PortalSecret {
		return oops.Code("CONFIG_INVALID").Errorf("auth.secret and auth.portal_secret must differ")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	return nil
}
