// Command generate runs one todo generation cycle and exits. It is meant for
// external schedulers (cron, Kubernetes CronJob) when the server's built-in
// scheduler is disabled.
//
// Exit status is 1 only when every store failed; a cycle already running
// elsewhere is logged and treated as success.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tbourn/nightlife-crm/internal/bootstrap"
	"github.com/tbourn/nightlife-crm/internal/config"
	"github.com/tbourn/nightlife-crm/internal/services"
	"github.com/tbourn/nightlife-crm/internal/sysutil"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName+"-generate")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn().Err(err).Msg("close backends")
		}
	}()

	rep, err := app.Generator.RunCycle(ctx, cfg.Now())
	switch {
	case errors.Is(err, services.ErrCycleInProgress):
		logger.Info().Msg("another generation cycle holds the lock; skipping")
		return nil
	case errors.Is(err, services.ErrAllStoresFailed):
		return err
	case err != nil:
		return fmt.Errorf("generation cycle: %w", err)
	}

	for _, s := range rep.Stores {
		if s.Err != nil {
			logger.Error().Err(s.Err).Str("store_id", s.StoreID).Int("failed_rules", s.FailedRules).Msg("store generation failed")
		}
	}
	logger.Info().
		Int("stores", len(rep.Stores)).
		Int("created", rep.Created).
		Int("failed_stores", rep.Failed).
		Dur("took", rep.Duration).
		Msg("generation finished")
	return nil
}
