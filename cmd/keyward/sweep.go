// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/account"
	"github.com/keyward/keyward/internal/crm"
	"github.com/keyward/keyward/internal/identity"
	"github.com/keyward/keyward/internal/notify"
)

func newSweepCmd(repos repositoryFactory) *cobra.Command {
	if repos == nil {
		repos = postgresRepository
	}
	var resync []string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one CRM reconciliation pass",
		Long: `Push every account still pending CRM sync to the CRM and print
how many succeeded and failed. Failed accounts stay pending.

--resync marks the given identities pending first so their contact and
segment are pushed again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids := make([]identity.Identity, 0, len(resync))
			for _, raw := range resync {
				id, err := identity.Parse(raw)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			if cfg.CRM.BaseURL == "" {
				return oops.Code("CONFIG_INVALID").With("key", "crm.base_url").Errorf("crm.base_url is required")
			}
			client, err := crm.NewMauticClient(crm.MauticConfig{
				BaseURL:  cfg.CRM.BaseURL,
				Username: cfg.CRM.Username,
				Password: cfg.CRM.Password,
				Timeout:  cfg.CRM.Timeout,
			})
			if err != nil {
				return err
			}

			repo, release, err := repos(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer release()

			// Sweeps never send email.
			accounts := account.NewService(repo, notify.NewMailer(notify.LogSender{Logger: logger},
				notify.MailerConfig{}, nil, logger), account.ServiceConfig{}, logger)
			for _, id := range ids {
				if _, err := accounts.MarkCRMPending(cmd.Context(), id); err != nil {
					return err
				}
			}

			sweeper := crm.NewSweeper(accounts, client, crm.SweeperConfig{
				WaitlistSegment: cfg.CRM.WaitlistSegment,
				BatchSize:       cfg.CRM.BatchSize,
			}, nil, logger)

			result, err := sweeper.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			renderTable(cmd.OutOrStdout(), []string{"Succeeded", "Failed"}, [][]string{
				{strconv.Itoa(result.Succeeded), strconv.Itoa(result.Failed)},
			})
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&resync, "resync", nil, "identities to mark pending before the pass")

	return cmd
}
