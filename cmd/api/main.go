package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dunamismax/pixelbatch/internal/api"
	"github.com/dunamismax/pixelbatch/internal/config"
	"github.com/dunamismax/pixelbatch/internal/logging"
	"github.com/dunamismax/pixelbatch/internal/queue"
	"github.com/dunamismax/pixelbatch/internal/ratelimit"
	"github.com/dunamismax/pixelbatch/internal/storage"
	"github.com/dunamismax/pixelbatch/internal/store"
	"github.com/dunamismax/pixelbatch/internal/telemetry"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()
		fallback.Fatal().Err(err).Msg("load config")
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Component: "api"}, os.Stdout)
	if err != nil {
		fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()
		fallback.Fatal().Err(err).Msg("configure logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "pixelbatch-api", cfg.Trace, logger)
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

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("queue client close error")
		}
	}()

	opts := api.Options{UserIDHeader: cfg.RateLimit.UserIDHeader}

	if objects, err := storage.NewClient(cfg.Storage); err != nil {
		logger.Warn().Err(err).Msg("object storage unavailable; s3 batches and uploads disabled")
	} else {
		if err := objects.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Str("bucket", objects.Bucket()).Msg("ensure bucket failed")
		}
		opts.Storage = objects
	}

	if cfg.RateLimit.Capacity > 0 {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatal().Err(err).Msg("rate limiter setup failed")
		}
		opts.RateLimiter = limiter
	}

	app := api.NewServer(logger, queueClient, batches, opts)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
