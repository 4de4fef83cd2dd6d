// Package bootstrap assembles the process-wide collaborators shared by the
// binaries under cmd/: database, cache, event publisher, metrics and the
// todo generator. Redis and RabbitMQ are optional; when unset or unreachable
// the in-process fallbacks are used and a warning is logged.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/nightlife-crm/internal/cache"
	"github.com/tbourn/nightlife-crm/internal/config"
	"github.com/tbourn/nightlife-crm/internal/events"
	"github.com/tbourn/nightlife-crm/internal/observability"
	"github.com/tbourn/nightlife-crm/internal/repo"
	"github.com/tbourn/nightlife-crm/internal/services"
)

// MetricsNamespace prefixes every Prometheus series.
const MetricsNamespace = "crm"

// App holds the shared backends. Close releases them in reverse order.
type App struct {
	DB        *gorm.DB
	Cache     cache.Store
	Events    events.Publisher
	Metrics   *observability.Metrics
	Generator *services.TodoGenerator

	closers []func() error
}

// Build opens the database (migrating it when migrate is set) and connects
// the optional backends.
func Build(ctx context.Context, cfg config.Config, lg zerolog.Logger, migrate bool) (*App, error) {
	a := &App{Metrics: observability.Registry(MetricsNamespace)}

	db, err := repo.Open(cfg.DB, cfg.OTEL.Enabled)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	if migrate {
		if err := repo.AutoMigrate(db); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		lg.Info().Str("driver", cfg.DB.Driver).Msg("database migrated")
	}

	a.Cache = connectCache(ctx, cfg.Redis, lg)
	a.closers = append(a.closers, a.Cache.Close)

	a.Events = connectEvents(cfg.AMQP, lg)
	a.closers = append(a.closers, a.Events.Close)

	a.Generator = &services.TodoGenerator{
		DB:          db,
		Locker:      a.Cache,
		Events:      a.Events,
		Metrics:     a.Metrics,
		Log:         lg.With().Str("component", "generator").Logger(),
		Concurrency: cfg.Generation.Concurrency,
		LockTTL:     cfg.Generation.LockTTL,
	}
	return a, nil
}

func connectCache(ctx context.Context, rc config.RedisConfig, lg zerolog.Logger) cache.Store {
	if rc.Addr == "" {
		lg.Info().Msg("redis not configured; using in-process lock and dedupe")
		return cache.NewMemory()
	}
	r := cache.NewRedis(cache.Config{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		lg.Warn().Err(err).Str("addr", rc.Addr).Msg("redis ping failed; using in-process lock and dedupe")
		_ = r.Close()
		return cache.NewMemory()
	}
	lg.Info().Str("addr", rc.Addr).Msg("redis connected")
	return r
}

func connectEvents(ac config.AMQPConfig, lg zerolog.Logger) events.Publisher {
	if ac.URL == "" {
		return events.Noop{}
	}
	p, err := events.DialAMQP(ac.URL, ac.Exchange)
	if err != nil {
		lg.Warn().Err(err).Msg("amqp unavailable; domain events disabled")
		return events.Noop{}
	}
	lg.Info().Str("exchange", ac.Exchange).Msg("amqp connected")
	return p
}

// Close releases every backend, newest first, and joins the errors.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
