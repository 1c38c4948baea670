// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package config

import (
	"net/url"

	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/pake"
)

func invalid(key, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
}

// Validate checks everything serve needs.
func (c *Config) Validate() error {
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http.addr is required")
	}
	if c.Opaque.ServerKey == "" {
		return invalid("opaque.server_key", "opaque.server_key is required; generate one with 'keyward keygen'")
	}
	if _, err := pake.ParseServerKey(c.Opaque.ServerKey); err != nil {
		return invalid("opaque.server_key", "opaque.server_key is not a valid key: %v", err)
	}

	positive := []struct {
		key   string
		value int64
	}{
		{"http.read_header_timeout", int64(c.HTTP.ReadHeaderTimeout)},
		{"http.shutdown_timeout", int64(c.HTTP.ShutdownTimeout)},
		{"handshake.ttl", int64(c.Handshake.TTL)},
		{"handshake.sweep_interval", int64(c.Handshake.SweepInterval)},
		{"handshake.operation_timeout", int64(c.Handshake.OperationTimeout)},
		{"recovery.code_ttl", int64(c.Recovery.CodeTTL)},
		{"ratelimit.max_requests", int64(c.RateLimit.MaxRequests)},
		{"ratelimit.window", int64(c.RateLimit.Window)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return invalid(p.key, "%s must be positive", p.key)
		}
	}

	if c.SMTP.Host != "" {
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			return invalid("smtp.port", "smtp.port must be between 1 and 65535, got %d", c.SMTP.Port)
		}
		if c.SMTP.From == "" {
			return invalid("smtp.from", "smtp.from is required when smtp.host is set")
		}
	}
	if c.Mail.Domain == "" {
		return invalid("mail.domain", "mail.domain is required for activation and recovery links")
	}
	if u, err := url.Parse(c.Mail.Domain); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("mail.domain", "mail.domain must be an absolute URL, got %q", c.Mail.Domain)
	}

	if c.CRM.Enabled {
		if err := c.validateCRM(); err != nil {
			return err
		}
	}
	return c.ValidateLog()
}

// ValidateDatabase checks the settings needed to reach PostgreSQL.
func (c *Config) ValidateDatabase() error {
	if c.Database.URL == "" {
		return invalid("database.url", "database.url (or DATABASE_URL) is required")
	}
	if c.Database.ConnectAttempts == 0 {
		return invalid("database.connect_attempts", "database.connect_attempts must be at least 1")
	}
	return nil
}

// ValidateLog checks the log settings.
func (c *Config) ValidateLog() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", "log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

func (c *Config) validateCRM() error {
	u, err := url.Parse(c.CRM.BaseURL)
	if err != nil || !u.IsAbs() {
		return invalid("crm.base_url", "crm.base_url must be an absolute URL when crm.enabled is set")
	}
	if c.CRM.Interval <= 0 {
		return invalid("crm.interval", "crm.interval must be positive")
	}
	if c.CRM.BatchSize <= 0 {
		return invalid("crm.batch_size", "crm.batch_size must be positive")
	}
	return nil
}
