package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/openlarder/larder/internal/app"
	"github.com/openlarder/larder/internal/app/maintenance"
	"github.com/openlarder/larder/internal/database"
	"github.com/openlarder/larder/internal/permissions"
	"github.com/openlarder/larder/internal/services"
	"github.com/openlarder/larder/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("larderd", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	}
	cfg, err := app.LoadConfig(paths...)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.WithModule("larderd")

	db, err := database.OpenAndMigrate(database.Config{
		Driver:   cfg.Database.Driver,
		Path:     cfg.Database.Path,
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		Options:  cfg.Database.Options,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	checker, err := permissions.NewChecker(db)
	if err != nil {
		return err
	}

	audit, err := services.NewAuditService(db)
	if err != nil {
		return err
	}

	invitations, err := services.NewInvitationService(db, checker, audit,
		services.WithInvitationExpiry(cfg.Invites.Expiry))
	if err != nil {
		return err
	}

	sweeper := maintenance.NewSweeper(invitations, audit,
		maintenance.WithSweepSchedule(cfg.Invites.SweepSchedule),
		maintenance.WithAuditSchedule(cfg.Audit.Schedule),
		maintenance.WithAuditRetentionDays(cfg.Audit.RetentionDays))
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	log.Info("larderd started",
		zap.String("database", cfg.Database.Driver),
		zap.String("sweep_schedule", cfg.Invites.SweepSchedule))

	<-ctx.Done()

	log.Info("shutting down")
	stopCtx := sweeper.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(shutdownTimeout):
		log.Warn("sweeper stop timed out")
	}

	return nil
}
