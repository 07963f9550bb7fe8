package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/gemini-live-service/internal/generate"
	"github.com/skypro1111/gemini-live-service/internal/metrics"
	"github.com/skypro1111/gemini-live-service/internal/server"
	"github.com/skypro1111/gemini-live-service/internal/session"
)

var startOnBoot bool
var startWithCamera bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the live session service with its HTTP control API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&startOnBoot, "start", false, "Start a live session immediately")
	serveCmd.Flags().BoolVar(&startWithCamera, "camera", false, "Include camera frames when --start is set")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", GetVersion()),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("model", cfg.Live.Model),
		slog.String("voice", cfg.Live.Voice),
		slog.Bool("api_key_set", cfg.Live.APIKey != ""),
		slog.String("microphone_address", cfg.Devices.Microphone.Address),
		slog.Bool("camera_configured", cfg.Devices.Camera.SnapshotURL != ""),
		slog.String("speaker", cfg.Devices.Speaker.Kind),
		slog.Int("frame_samples", cfg.Audio.FrameSamples),
		slog.Bool("vad_enabled", cfg.VAD.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics(nil)
	logger.Info("Prometheus metrics initialized")

	ctrl, err := session.NewController(sessionOptions(cfg, appMetrics, logger))
	if err != nil {
		return fmt.Errorf("failed to create session controller: %w", err)
	}

	var gen generate.Generator
	client, err := newGenerator(ctx, cfg, appMetrics, logger)
	if err != nil {
		return fmt.Errorf("failed to create generate client: %w", err)
	}
	if client != nil {
		gen = client
	} else {
		logger.Warn("No API key configured, generate endpoints are disabled")
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		server.Version = GetVersion()
		httpServer = server.NewHTTPServer(server.Options{
			HTTP:      cfg.HTTP,
			Config:    cfg,
			Session:   ctrl,
			Generator: gen,
			Metrics:   appMetrics,
			Logger:    logger,
		})
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	if startOnBoot {
		if _, err := ctrl.Start(ctx, session.StartOptions{Camera: startWithCamera}); err != nil {
			logger.Error("Failed to start live session", slog.String("error", err.Error()))
		}
	}

	logger.Info("Service started successfully, waiting for signals...")

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	// Stop accepting requests before tearing the session down
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := ctrl.Stop(); err != nil {
		logger.Error("Error stopping live session", slog.String("error", err.Error()))
	}

	status := ctrl.Status()
	logger.Info("Final session status",
		slog.String("last_session_id", status.LastSession),
		slog.String("last_error", status.LastError),
	)
	if client != nil {
		stats := client.GetStats()
		logger.Info("Final generate statistics",
			slog.Uint64("total_requests", stats.TotalRequests),
			slog.Uint64("failed_requests", stats.FailedRequests),
			slog.Uint64("total_retries", stats.TotalRetries),
		)
	}

	logger.Info("Service stopped")
	return nil
}
