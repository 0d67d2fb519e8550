package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fixd/internal/config"
	fixdhttp "github.com/fyrsmithlabs/fixd/internal/http"
	"github.com/fyrsmithlabs/fixd/internal/logging"
	"github.com/fyrsmithlabs/fixd/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fix orchestration daemon",
	Long: `Run the fixd daemon: background workers that drive fix sessions plus the
HTTP API for creating and inspecting them. Shuts down gracefully on SIGINT
or SIGTERM, letting in-flight sessions finish.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zlog := logger.Underlying()

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:        cfg.Observability.Enabled,
		Endpoint:       cfg.Observability.Endpoint,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Insecure:       cfg.Observability.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	registry, err := buildRegistry(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	eng := registry.Engine()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine workers: %w", err)
	}

	server, err := fixdhttp.NewServer(eng, zlog, &fixdhttp.Config{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		SessionRateLimit: cfg.Server.SessionRateLimit,
	})
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	logger.Info(ctx, "fixd starting",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("repo", cfg.VCS.Owner+"/"+cfg.VCS.Repo),
		zap.Int("workers", cfg.Engine.Workers),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "http shutdown", zap.Error(err))
	}
	if err := eng.Close(); err != nil {
		logger.Warn(ctx, "engine shutdown", zap.Error(err))
	}
	if err := registry.Store().Close(); err != nil {
		logger.Warn(ctx, "store close", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
	}

	logger.Info(ctx, "fixd stopped")
	return nil
}
