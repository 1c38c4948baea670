// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package config loads keyward's configuration from defaults, a YAML file,
// the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/keyward/keyward/internal/xdg"
)

// EnvPrefix starts every environment override. Sections and keys are joined
// with a double underscore: KEYWARD_HTTP__ADDR sets http.addr.
const EnvPrefix = "KEYWARD_"

// Config is the complete runtime configuration.
type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Opaque    OpaqueConfig    `koanf:"opaque"`
	Handshake HandshakeConfig `koanf:"handshake"`
	Waitlist  WaitlistConfig  `koanf:"waitlist"`
	Recovery  RecoveryConfig  `koanf:"recovery"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	SMTP      SMTPConfig      `koanf:"smtp"`
	Mail      MailConfig      `koanf:"mail"`
	CRM       CRMConfig       `koanf:"crm"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	ConnectAttempts uint64        `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
}

// RedisConfig configures the rate limiter backend. An empty Addr disables
// rate limiting.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// OpaqueConfig holds the server's long-term OPAQUE key.
type OpaqueConfig struct {
	ServerKey string `koanf:"server_key"`
}

// HandshakeConfig tunes the handshake coordinator.
type HandshakeConfig struct {
	TTL                   time.Duration `koanf:"ttl"`
	SweepInterval         time.Duration `koanf:"sweep_interval"`
	OperationTimeout      time.Duration `koanf:"operation_timeout"`
	RequireOwnershipProof bool          `koanf:"require_ownership_proof"`
}

// WaitlistConfig gates registration on pre-approval.
type WaitlistConfig struct {
	Enabled bool `koanf:"enabled"`
}

// RecoveryConfig tunes password recovery.
type RecoveryConfig struct {
	CodeTTL time.Duration `koanf:"code_ttl"`
}

// RateLimitConfig bounds the email-sending endpoints.
type RateLimitConfig struct {
	MaxRequests int           `koanf:"max_requests"`
	Window      time.Duration `koanf:"window"`
}

// SMTPConfig configures the outbound mail relay. An empty Host logs emails
// instead of sending them.
type SMTPConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	From     string        `koanf:"from"`
	Timeout  time.Duration `koanf:"timeout"`
}

// MailConfig controls email content.
type MailConfig struct {
	AppName string `koanf:"app_name"`
	Domain  string `koanf:"domain"`
}

// CRMConfig configures the Mautic sweeper.
type CRMConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BaseURL         string        `koanf:"base_url"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	WaitlistSegment string        `koanf:"waitlist_segment"`
	Interval        time.Duration `koanf:"interval"`
	BatchSize       int           `koanf:"batch_size"`
	Timeout         time.Duration `koanf:"timeout"`
}

// LogConfig selects log output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// MetricsConfig configures the metrics and health listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Defaults returns the built-in configuration as a flat key map.
func Defaults() map[string]any {
	return map[string]any{
		"http.addr":                         ":8080",
		"http.read_header_timeout":          10 * time.Second,
		"http.shutdown_timeout":             15 * time.Second,
		"database.connect_attempts":         uint64(6),
		"database.connect_backoff":          500 * time.Millisecond,
		"redis.db":                          0,
		"handshake.ttl":                     5 * time.Minute,
		"handshake.sweep_interval":          time.Minute,
		"handshake.operation_timeout":       10 * time.Second,
		"handshake.require_ownership_proof": true,
		"waitlist.enabled":                  false,
		"recovery.code_ttl":                 time.Hour,
		"ratelimit.max_requests":            5,
		"ratelimit.window":                  15 * time.Minute,
		"smtp.port":                         587,
		"smtp.timeout":                      10 * time.Second,
		"mail.app_name":                     "Keyward",
		"crm.interval":                      10 * time.Minute,
		"crm.batch_size":                    500,
		"crm.timeout":                       10 * time.Second,
		"log.format":                        "json",
		"log.level":                         "info",
		"metrics.addr":                      "127.0.0.1:9100",
	}
}

// LoadOptions tells Load where to look.
type LoadOptions struct {
	// File is an explicit config path. It must exist. When empty the XDG
	// default is used if present.
	File string
	// Flags, when set, override every other source for flags the user
	// changed. Flag names map to keys through FlagKeys.
	Flags *pflag.FlagSet
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"http-addr":               "http.addr",
	"database-url":            "database.url",
	"redis-addr":              "redis.addr",
	"metrics-addr":            "metrics.addr",
	"log-format":              "log.format",
	"log-level":               "log.level",
	"waitlist":                "waitlist.enabled",
	"require-ownership-proof": "handshake.require_ownership_proof",
	"crm":                     "crm.enabled",
}

// Load assembles the configuration. Later sources win: defaults, the YAML
// file, DATABASE_URL, KEYWARD_* variables, then changed flags.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_DEFAULTS_FAILED").Wrap(err)
	}

	path, required := opts.File, true
	if path == "" {
		path, required = xdg.ConfigFile(), false
	}
	if err := loadFile(k, path, required); err != nil {
		return nil, err
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		if err := k.Load(confmap.Provider(map[string]any{"database.url": url}, "."), nil); err != nil {
			return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "unmarshal").Wrap(err)
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_FILE_MISSING").With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_FILE_INVALID").With("path", path).Wrap(err)
	}
	return nil
}

// envKey turns KEYWARD_CRM__BASE_URL into crm.base_url.
func envKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(name), "__", ".")
}
