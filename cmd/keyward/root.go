// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/logging"
)

const serviceName = "keyward"

// NewRootCmd creates the root command for the keyward CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyward",
		Short: "Keyward - OPAQUE password authentication for wallets",
		Long: `Keyward coordinates OPAQUE password-authenticated key exchange
handshakes and stores the resulting password envelopes, wallet payloads
and account lifecycle state in PostgreSQL.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file path (default: $XDG_CONFIG_HOME/keyward/config.yaml)")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.String("log-format", "json", "log format (json or text)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd(nil))
	cmd.AddCommand(newSweepCmd(nil))
	cmd.AddCommand(newWaitlistCmd(nil))
	cmd.AddCommand(newRecoveryCmd(nil))
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newKeygenCmd())

	return cmd
}

// loadConfig reads configuration with the command's flags as the highest
// precedence source.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		path = ""
	}
	return config.Load(config.LoadOptions{File: path, Flags: cmd.Flags()})
}

// setupLogging installs the default logger for a command run.
func setupLogging(cfg *config.Config) (*slog.Logger, error) {
	if err := cfg.ValidateLog(); err != nil {
		return nil, err
	}
	return logging.SetDefault(serviceName, version, logging.Options{
		Format: cfg.Log.Format,
		Level:  cfg.Log.Level,
	}), nil
}
