package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dunamismax/pixelbatch/internal/config"
	"github.com/dunamismax/pixelbatch/internal/logging"
	"github.com/dunamismax/pixelbatch/internal/pipeline"
	"github.com/dunamismax/pixelbatch/internal/storage"
	"github.com/dunamismax/pixelbatch/internal/store"
	"github.com/dunamismax/pixelbatch/internal/telemetry"
	"github.com/dunamismax/pixelbatch/internal/webhook"
	"github.com/dunamismax/pixelbatch/internal/worker"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()
		fallback.Fatal().Err(err).Msg("load config")
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Component: "worker"}, os.Stdout)
	if err != nil {
		fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()
		fallback.Fatal().Err(err).Msg("configure logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pipeline.Startup(); err != nil {
		logger.Fatal().Err(err).Msg("image runtime startup failed")
	}
	defer pipeline.Shutdown()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "pixelbatch-worker", cfg.Trace, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup failed")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	batches, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open batch store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn().Err(err).Msg("batch store close error")
		}
	}()

	var objects pipeline.ObjectClient
	if client, err := storage.NewClient(cfg.Storage); err != nil {
		logger.Warn().Err(err).Msg("object storage unavailable; s3 items will fail")
	} else {
		objects = client
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
		Timeout:       cfg.Webhook.Timeout,
		MaxAttempts:   cfg.Webhook.MaxAttempts,
	})

	srv, err := worker.NewServer(logger, cfg, objects, webhookClient, batches)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker setup failed")
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Worker.MetricsAddr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Msg("starting worker")

	// asynq installs its own signal handling and returns after draining.
	if err := srv.Run(); err != nil {
		logger.Error().Err(err).Msg("worker failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics shutdown failed")
	}
}
