package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/httpapi"
)

const defaultConfigPath = "agentcore.yaml"

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the job queue, scheduler, and HTTP API",
		Long: `serve starts the full process: it loads configuration, opens the
persistence store, recovers jobs a previous crash left running, and starts
the Job Queue, CRON Scheduler, and HTTP API. It shuts down gracefully on
SIGINT/SIGTERM, letting in-flight steps finish before the store closes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}))
	slog.SetDefault(logger)
	logger.Info("starting agentcore", "version", version, "commit", commit, "config", configPath)

	comps, err := buildComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("build components: %w", err)
	}
	defer comps.store.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	recovered, err := comps.queue.RecoverCrashed(ctx)
	if err != nil {
		return fmt.Errorf("recover crashed jobs: %w", err)
	}
	if recovered > 0 {
		logger.Info("recovered jobs from a prior crash", "count", recovered)
	}

	go comps.queue.Start(ctx)
	go comps.scheduler.Start(ctx)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler: httpapi.New(comps.store, comps.queue, comps.gate, comps.runtime, logger),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutdown signal received, draining")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
