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

	"github.com/fyrsmithlabs/coco/internal/checkpoint"
	"github.com/fyrsmithlabs/coco/internal/httpapi"
	"github.com/fyrsmithlabs/coco/internal/logging"
	"github.com/fyrsmithlabs/coco/internal/state"
	"github.com/fyrsmithlabs/coco/internal/telemetry"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve pipeline status over HTTP",
	Long: `Start the status HTTP server for a project.

The server exposes read-only pipeline state, progress, checkpoint listings,
and Prometheus metrics:

  GET /healthz
  GET /metrics
  GET /api/v1/state
  GET /api/v1/progress
  GET /api/v1/checkpoints?phase=<phase>

Examples:
  # Serve on the default port
  coco serve

  # Serve another project on a chosen port
  COCO_SERVER_PORT=9000 coco serve --project ~/src/mercury`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Telemetry.Shutdown.Timeout)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := logging.New(&cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := state.NewStore(dir)
	if err != nil {
		return err
	}
	checkpoints, err := checkpoint.NewManager(dir, &cfg.Checkpoint, logger)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint manager: %w", err)
	}

	srv, err := httpapi.NewServer(store, checkpoints, cfg.Server, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info(ctx, "status server started",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("project", dir),
	)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info(context.Background(), "status server stopped")
	return nil
}
