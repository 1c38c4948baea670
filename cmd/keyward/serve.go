// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/httpapi"
	"github.com/keyward/keyward/internal/observability"
	"github.com/keyward/keyward/internal/store"
)

// serveConfig holds flags that only affect serve.
type serveConfig struct {
	autoMigrate bool
}

func newServeCmd() *cobra.Command {
	sc := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API together with the metrics and health listener,
the abandoned handshake sweep and, when enabled, the CRM sweeper.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, sc)
		},
	}

	cmd.Flags().BoolVar(&sc.autoMigrate, "auto-migrate", false, "apply pending migrations before serving")
	cmd.Flags().String("http-addr", ":8080", "API listen address")
	cmd.Flags().String("metrics-addr", "127.0.0.1:9100", "metrics/health listen address (empty = disabled)")
	cmd.Flags().String("redis-addr", "", "Redis address for rate limiting (empty = disabled)")
	cmd.Flags().Bool("waitlist", false, "require waitlist approval before registration")
	cmd.Flags().Bool("require-ownership-proof", true, "require public key identities to sign a challenge")
	cmd.Flags().Bool("crm", false, "enable CRM reconciliation")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, sc *serveConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if sc.autoMigrate {
		if err := migrateUp(cfg.Database.URL); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	pool, err := store.Connect(ctx, cfg.Database.URL, store.ConnectOptions{
		Attempts: cfg.Database.ConnectAttempts,
		Backoff:  cfg.Database.ConnectBackoff,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, closeRedis, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRedis()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		obsServer *observability.Server
		metrics   *observability.Metrics
	)
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, readiness(pool, rdb))
		metrics = obsServer.Metrics()
	}

	a, err := assemble(cfg, pool, rdb, metrics, logger)
	if err != nil {
		return err
	}

	if obsServer != nil {
		metrics.WatchPendingHandshakes(a.store.Len)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	apiServer := httpapi.NewServer(cfg.HTTP.Addr, a.api.Routes(), cfg.HTTP.ReadHeaderTimeout)
	apiErrCh, err := apiServer.Start()
	if err != nil {
		stopServers(cfg, nil, obsServer)
		return err
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "http")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.store.Run(ctx, cfg.Handshake.SweepInterval)
	}()
	if a.sweeper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.sweeper.Run(ctx)
		}()
		// Pick up anything left pending by a previous run.
		a.sweeper.Trigger()
	}

	cmd.Println("keyward started")
	logger.Info("keyward ready",
		"http_addr", apiServer.Addr(),
		"waitlist", cfg.Waitlist.Enabled,
		"crm", cfg.CRM.Enabled,
		"rate_limit", rdb != nil,
		"server_public_key", a.engine.ServerPublicKey())

	<-ctx.Done()
	logger.Info("shutting down...")

	stopServers(cfg, apiServer, obsServer)
	cancel()
	wg.Wait()

	logger.Info("shutdown complete")
	return nil
}

// connectRedis returns a nil client when rate limiting is disabled.
func connectRedis(ctx context.Context, cfg *config.Config) (redis.Cmdable, func(), error) {
	if cfg.Redis.Addr == "" {
		slog.Warn("redis.addr not set, rate limiting disabled")
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Debug("error closing redis client", "error", err)
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		closeFn()
		return nil, nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Redis.Addr).Wrap(err)
	}
	return client, closeFn, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

var _ pinger = (*pgxpool.Pool)(nil)

// readiness reports ready while the database and, if configured, Redis
// answer pings.
func readiness(db pinger, rdb redis.Cmdable) observability.ReadinessChecker {
	return func(ctx context.Context) error {
		if err := db.Ping(ctx); err != nil {
			return oops.Code("DB_UNAVAILABLE").Wrap(err)
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return oops.Code("REDIS_UNAVAILABLE").Wrap(err)
			}
		}
		return nil
	}
}

type stopper interface {
	Stop(ctx context.Context) error
}

func stopServers(cfg *config.Config, api *httpapi.Server, obs *observability.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	servers := map[string]stopper{}
	if api != nil {
		servers["http"] = api
	}
	if obs != nil {
		servers["observability"] = obs
	}
	for name, srv := range servers {
		if err := srv.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping server", "server", name, "error", err)
		}
	}
}

// monitorServerErrors cancels ctx when a server fails. It exits when an
// error arrives, the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
