// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/account"
	"github.com/keyward/keyward/internal/identity"
)

func newWaitlistCmd(repos repositoryFactory) *cobra.Command {
	if repos == nil {
		repos = postgresRepository
	}

	cmd := &cobra.Command{
		Use:   "waitlist",
		Short: "Manage registration pre-approval",
		Long: `Add identities to the waitlist and approve them. With waitlist.enabled
only approved identities can register.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add IDENTITY...",
		Short: "Add identities to the waitlist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWaitlist(cmd, repos, args, func(ctx context.Context, s *account.Service, id identity.Identity) (*account.Account, error) {
				return s.AddToWaitlist(ctx, id)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "approve IDENTITY...",
		Short: "Approve waitlisted identities for registration",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWaitlist(cmd, repos, args, func(ctx context.Context, s *account.Service, id identity.Identity) (*account.Account, error) {
				return s.ApproveWaitlisted(ctx, id)
			})
		},
	})

	return cmd
}

type waitlistOp func(ctx context.Context, s *account.Service, id identity.Identity) (*account.Account, error)

// runWaitlist validates every identity before touching the database.
func runWaitlist(cmd *cobra.Command, repos repositoryFactory, args []string, op waitlistOp) error {
	ids := make([]identity.Identity, 0, len(args))
	for _, arg := range args {
		id, err := identity.Parse(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	accounts, release, err := openAccounts(cmd, repos)
	if err != nil {
		return err
	}
	defer release()

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		acct, err := op(cmd.Context(), accounts, id)
		if err != nil {
			return err
		}
		rows = append(rows, []string{
			acct.Identity.String(),
			string(acct.State),
			strconv.FormatBool(acct.Eligible),
		})
	}
	renderTable(cmd.OutOrStdout(), []string{"Identity", "State", "Eligible"}, rows)
	return nil
}
