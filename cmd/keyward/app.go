// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/account"
	accountpg "github.com/keyward/keyward/internal/account/postgres"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/crm"
	"github.com/keyward/keyward/internal/handshake"
	"github.com/keyward/keyward/internal/httpapi"
	"github.com/keyward/keyward/internal/notify"
	"github.com/keyward/keyward/internal/observability"
	"github.com/keyward/keyward/internal/pake"
	"github.com/keyward/keyward/internal/ratelimit"
)

// database is the pool surface the account repository needs.
// *pgxpool.Pool satisfies it in production and pgxmock in tests.
type database interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// app is the assembled service graph.
type app struct {
	engine   *pake.OpaqueEngine
	accounts *account.Service
	store    *handshake.MemoryStore
	coord    *handshake.Coordinator
	// sweeper is nil when CRM sync is disabled.
	sweeper *crm.Sweeper
	api     *httpapi.API
}

// assemble wires components from cfg. rdb and metrics may be nil.
func assemble(cfg *config.Config, db database, rdb redis.Cmdable, metrics *observability.Metrics, logger *slog.Logger) (*app, error) {
	var (
		handshakeObs handshake.Observer
		crmObs       crm.Observer
		mailObs      notify.Observer
		httpObs      httpapi.Observer
	)
	if metrics != nil {
		handshakeObs, crmObs, mailObs, httpObs = metrics, metrics, metrics, metrics
	}

	serverKey, err := pake.ParseServerKey(cfg.Opaque.ServerKey)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("key", "opaque.server_key").Wrap(err)
	}

	var sender notify.Sender = notify.LogSender{Logger: logger}
	if cfg.SMTP.Host != "" {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Timeout:  cfg.SMTP.Timeout,
		})
	}
	mailer := notify.NewMailer(sender, notify.MailerConfig{
		AppName: cfg.Mail.AppName,
		Domain:  cfg.Mail.Domain,
	}, mailObs, logger)

	a := &app{
		engine: pake.NewOpaqueEngine(serverKey),
		accounts: account.NewService(accountpg.NewAccountRepository(db), mailer,
			account.ServiceConfig{RecoveryCodeTTL: cfg.Recovery.CodeTTL}, logger),
		store: handshake.NewMemoryStore(cfg.Handshake.TTL, logger),
	}

	coordOpts := []handshake.Option{
		handshake.WithObserver(handshakeObs),
		handshake.WithLogger(logger),
	}
	apiOpts := []httpapi.Option{
		httpapi.WithObserver(httpObs),
		httpapi.WithLogger(logger),
	}
	if cfg.CRM.Enabled {
		client, err := crm.NewMauticClient(crm.MauticConfig{
			BaseURL:  cfg.CRM.BaseURL,
			Username: cfg.CRM.Username,
			Password: cfg.CRM.Password,
			Timeout:  cfg.CRM.Timeout,
		})
		if err != nil {
			return nil, err
		}
		a.sweeper = crm.NewSweeper(a.accounts, client, crm.SweeperConfig{
			Interval:        cfg.CRM.Interval,
			WaitlistSegment: cfg.CRM.WaitlistSegment,
			BatchSize:       cfg.CRM.BatchSize,
		}, crmObs, logger)
		coordOpts = append(coordOpts, handshake.WithSyncTrigger(a.sweeper))
		apiOpts = append(apiOpts, httpapi.WithSyncTrigger(a.sweeper))
	}

	a.coord = handshake.NewCoordinator(a.engine, a.store, a.accounts, handshake.Config{
		WaitlistEnabled:       cfg.Waitlist.Enabled,
		RequireOwnershipProof: cfg.Handshake.RequireOwnershipProof,
		OperationTimeout:      cfg.Handshake.OperationTimeout,
	}, coordOpts...)

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if rdb != nil {
		limiter = ratelimit.NewRedisLimiter(rdb, ratelimit.Config{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
		})
	}
	a.api = httpapi.New(a.coord, a.accounts, limiter, apiOpts...)
	return a, nil
}
