// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatewarden/gatewarden/internal/auth"
	authpg "github.com/gatewarden/gatewarden/internal/auth/postgres"
	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/logging"
	"github.com/gatewarden/gatewarden/internal/observability"
	"github.com/gatewarden/gatewarden/internal/store"
	"github.com/gatewarden/gatewarden/pkg/errutil"
)

// janitorInterval is how often expired token rows are purged.
const janitorInterval = time.Hour

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth service",
		Long: `Start the auth service: connects to PostgreSQL, serves metrics and
health probes, and runs background cleanup of expired tokens.`,
		RunE: runServe,
	}

	cmd.Flags().String("database.url", "", "PostgreSQL connection URL")
	cmd.Flags().String("metrics.addr", "", "metrics listen address")
	cmd.Flags().String("log.format", "", "log format (json or text)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger := logging.Setup("gatewarden", cmd.Root().Version, cfg.Log.Format, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	obs := observability.NewServer(cfg.Metrics.Addr, func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx) == nil
	})
	errCh, err := obs.Start()
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if stopErr := obs.Stop(stopCtx); stopErr != nil {
			errutil.LogError(logger, "observability server stop failed", stopErr)
		}
	}()

	audit := auth.NewRecorderWithLogger(authpg.NewAuditRepository(pool), logger)
	audit.SetDropHook(observability.RecordAuditDrop)
	audit.SetEventHook(obs.Metrics().ObserveAuthEvent)

	refreshRepo := authpg.NewRefreshTokenRepository(pool)
	onetimeRepo := authpg.NewOneTimeTokenRepository(pool)

	logger.Info("gatewarden started",
		"metrics_addr", obs.Addr(),
		"access_token_ttl", cfg.Auth.AccessTokenTTL,
	)

	janitor := time.NewTicker(janitorInterval)
	defer janitor.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case serveErr, ok := <-errCh:
			if !ok {
				return nil
			}
			return oops.Code("METRICS_SERVER_FAILED").Wrap(serveErr)
		case <-janitor.C:
			if n, purgeErr := refreshRepo.DeleteExpired(ctx); purgeErr != nil {
				errutil.LogError(logger, "refresh token cleanup failed", purgeErr)
			} else if n > 0 {
				logger.Info("purged expired refresh tokens", "count", n)
			}
			if n, purgeErr := onetimeRepo.DeleteExpired(ctx); purgeErr != nil {
				errutil.LogError(logger, "one-time token cleanup failed", purgeErr)
			} else if n > 0 {
				logger.Info("purged expired one-time tokens", "count", n)
			}
		}
	}
}
