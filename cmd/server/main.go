// Command server runs the nightlife CRM HTTP API, the LINE webhook receiver
// and, when enabled, the in-process todo generation scheduler.
//
// @title                      Nightlife CRM API
// @version                    1.0
// @description                Staff API for customer follow-ups, guarded LINE sends and registration codes.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/tbourn/nightlife-crm/internal/bootstrap"
	"github.com/tbourn/nightlife-crm/internal/config"
	httpapi "github.com/tbourn/nightlife-crm/internal/http"
	"github.com/tbourn/nightlife-crm/internal/observability"
	"github.com/tbourn/nightlife-crm/internal/scheduler"
	"github.com/tbourn/nightlife-crm/internal/sysutil"
)

var version = "dev"

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

	logger := sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	logger.Info().Str("version", version).Str("timezone", cfg.Timezone).Msg("starting nightlife-crm")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("setup otel: %w", err)
	}

	app, err := bootstrap.Build(ctx, cfg, logger, true)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, app.DB, httpapi.Backends{
		Cache:     app.Cache,
		Events:    app.Events,
		Metrics:   app.Metrics,
		Generator: app.Generator,
	}, cfg)

	var sched *scheduler.Scheduler
	if cfg.Generation.SchedulerEnabled {
		sched, err = scheduler.New(cfg.Generation.Cron, cfg.Location, app.Generator,
			logger.With().Str("component", "scheduler").Logger(), cfg.Now, cfg.Generation.LockTTL)
		if err != nil {
			_ = app.Close()
			return fmt.Errorf("scheduler: %w", err)
		}
		sched.Start()
		logger.Info().Str("cron", cfg.Generation.Cron).Time("next", sched.Next()).Msg("generation scheduler started")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
		}
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("otel shutdown: %w", err))
	}
	if err := app.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backends: %w", err))
	}
	if runErr != nil {
		return runErr
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
