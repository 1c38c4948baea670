// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/account"
	accountpg "github.com/keyward/keyward/internal/account/postgres"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/notify"
	"github.com/keyward/keyward/internal/store"
)

// repositoryFactory opens the account repository for an admin command. The
// returned func releases it.
type repositoryFactory func(ctx context.Context, cfg *config.Config) (account.Repository, func(), error)

func postgresRepository(ctx context.Context, cfg *config.Config) (account.Repository, func(), error) {
	if err := cfg.ValidateDatabase(); err != nil {
		return nil, nil, err
	}
	pool, err := store.Connect(ctx, cfg.Database.URL, store.ConnectOptions{
		Attempts: cfg.Database.ConnectAttempts,
		Backoff:  cfg.Database.ConnectBackoff,
	})
	if err != nil {
		return nil, nil, err
	}
	return accountpg.NewAccountRepository(pool), pool.Close, nil
}

// openAccounts builds the account service for an admin command. Mail the
// service would send is logged instead of delivered.
func openAccounts(cmd *cobra.Command, repos repositoryFactory) (*account.Service, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return nil, nil, err
	}
	repo, release, err := repos(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	mailer := notify.NewMailer(notify.LogSender{Logger: logger}, notify.MailerConfig{}, nil, logger)
	return account.NewService(repo, mailer, account.ServiceConfig{}, logger), release, nil
}
