// Command seed loads stores, staff, LINE channels, templates and generation
// rules from a YAML fixture into the configured database. Applying the same
// file twice leaves the database unchanged.
//
//	seed -f fixtures.yaml
//
// ${VAR} references in the file are expanded from the environment, so
// channel secrets and passwords need not be committed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tbourn/nightlife-crm/internal/config"
	"github.com/tbourn/nightlife-crm/internal/repo"
	"github.com/tbourn/nightlife-crm/internal/seed"
	"github.com/tbourn/nightlife-crm/internal/sysutil"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	file := flag.String("f", "", "fixture file (default $SEED_FILE or fixtures.yaml)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName+"-seed")

	path := sysutil.FirstNonEmpty(*file, os.Getenv("SEED_FILE"), "fixtures.yaml")
	f, err := seed.LoadFile(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repo.Open(cfg.DB, false)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	sum, err := seed.Apply(ctx, db, f)
	if err != nil {
		return err
	}
	logger.Info().
		Str("file", path).
		Int("stores", sum.Stores).
		Int("staff", sum.Staff).
		Int("channels", sum.Channels).
		Int("templates", sum.Templates).
		Int("rules", sum.Rules).
		Msg("seed applied")
	return nil
}
