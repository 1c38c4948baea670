// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package crm mirrors accounts into the external CRM. Accounts are reached
// only through AccountPort; the account entity itself never calls out.
package crm

import (
	"context"
	"log/slog"
	"time"

	"github.com/keyward/keyward/internal/account"
	"github.com/keyward/keyward/internal/identity"
	"github.com/keyward/keyward/pkg/errutil"
)

// Defaults.
const (
	DefaultInterval  = 10 * time.Minute
	DefaultBatchSize = 500
)

// AccountPort is the sweeper's read/write access to accounts.
type AccountPort interface {
	ListCRMPending(ctx context.Context, after account.Cursor, limit int) ([]*account.Account, error)
	RecordCRMContact(ctx context.Context, acct *account.Account, contactID string) error
	MarkCRMSynced(ctx context.Context, acct *account.Account, contactID string) error
}

// Observer counts per-account sync results.
type Observer interface {
	ObserveCRMSync(result string)
}

// SweeperConfig tunes the sweeper.
type SweeperConfig struct {
	Interval time.Duration
	// WaitlistSegment is the segment waitlisted contacts belong to. Empty
	// disables segment updates.
	WaitlistSegment string
	BatchSize       int
}

// SweepResult tallies one pass.
type SweepResult struct {
	Succeeded int
	Failed    int
}

// Sweeper reconciles CRM-pending accounts on an interval and on demand.
type Sweeper struct {
	accounts AccountPort
	client   Client
	cfg      SweeperConfig
	observer Observer
	logger   *slog.Logger
	nudge    chan struct{}
}

// NewSweeper creates a Sweeper. observer may be nil.
func NewSweeper(accounts AccountPort, client Client, cfg SweeperConfig, observer Observer, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		accounts: accounts,
		client:   client,
		cfg:      cfg,
		observer: observer,
		logger:   logger,
		nudge:    make(chan struct{}, 1),
	}
}

// Trigger asks for a pass soon. It never blocks; nudges arriving while one
// is queued are coalesced.
func (s *Sweeper) Trigger() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Run sweeps on every tick and nudge until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.nudge:
		}
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			errutil.LogError(s.logger, "crm sweep failed", err)
		}
	}
}

// RunOnce syncs every pending account once, paging through them in
// BatchSize pages. A failing account is counted and left pending; it does
// not stop the pass.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var (
		result SweepResult
		cursor account.Cursor
	)

	for {
		page, err := s.accounts.ListCRMPending(ctx, cursor, s.cfg.BatchSize)
		if err != nil {
			return result, err
		}
		if len(page) > 0 && result == (SweepResult{}) {
			s.logger.InfoContext(ctx, "starting crm sync")
		}

		for _, acct := range page {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if err := s.syncOne(ctx, acct); err != nil {
				result.Failed++
				s.observe("failure")
				s.logger.WarnContext(ctx, "crm sync failed",
					"account_id", acct.ID.String(),
					"error", err)
				continue
			}
			result.Succeeded++
			s.observe("success")
		}

		if len(page) < s.cfg.BatchSize {
			break
		}
		cursor = account.CursorAfter(page[len(page)-1])
	}

	if result != (SweepResult{}) {
		s.logger.InfoContext(ctx, "crm sync finished",
			"succeeded", result.Succeeded,
			"failed", result.Failed)
	}
	return result, ctx.Err()
}

func (s *Sweeper) syncOne(ctx context.Context, acct *account.Account) error {
	email, ok := acct.Identity.(identity.Email)
	if !ok {
		// Nothing to mirror for key-only accounts.
		return s.accounts.MarkCRMSynced(ctx, acct, "")
	}

	contactID := acct.CRMContactID
	if contactID == "" {
		id, err := s.client.CreateContact(ctx, email.String())
		if err != nil {
			return err
		}
		contactID = id
		if s.cfg.WaitlistSegment != "" {
			if err := s.accounts.RecordCRMContact(ctx, acct, contactID); err != nil {
				return err
			}
		}
	}

	if s.cfg.WaitlistSegment != "" {
		waitlisted := acct.State == account.StateWaitlisted
		if err := s.client.SetSegment(ctx, contactID, s.cfg.WaitlistSegment, waitlisted); err != nil {
			return err
		}
	}

	return s.accounts.MarkCRMSynced(ctx, acct, contactID)
}

func (s *Sweeper) observe(result string) {
	if s.observer != nil {
		s.observer.ObserveCRMSync(result)
	}
}
