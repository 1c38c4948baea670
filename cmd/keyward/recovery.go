// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"github.com/spf13/cobra"
)

func newRecoveryCmd(repos repositoryFactory) *cobra.Command {
	if repos == nil {
		repos = postgresRepository
	}

	cmd := &cobra.Command{
		Use:   "recovery",
		Short: "Manage password recovery codes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke CODE",
		Short: "Invalidate a live recovery code",
		Long: `Consume a recovery code without resetting the password, so a leaked
recovery link stops working. The account keeps its current password.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, release, err := openAccounts(cmd, repos)
			if err != nil {
				return err
			}
			defer release()

			acct, err := accounts.ConsumeRecoveryCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderTable(cmd.OutOrStdout(), []string{"Identity", "State", "Recovery"},
				[][]string{{acct.Identity.String(), string(acct.State), "revoked"}})
			return nil
		},
	})

	return cmd
}
