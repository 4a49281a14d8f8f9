package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apatte-racing/telemetry-ingest/internal/config"
	"github.com/apatte-racing/telemetry-ingest/internal/deadletter"
	"github.com/apatte-racing/telemetry-ingest/internal/health"
	"github.com/apatte-racing/telemetry-ingest/internal/identity"
	"github.com/apatte-racing/telemetry-ingest/internal/logging"
	"github.com/apatte-racing/telemetry-ingest/internal/metrics"
	"github.com/apatte-racing/telemetry-ingest/internal/persist"
	"github.com/apatte-racing/telemetry-ingest/internal/pipeline"
	"github.com/apatte-racing/telemetry-ingest/internal/server"
	"github.com/apatte-racing/telemetry-ingest/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(slog.String("service", "ingestd"))
	logging.SetDefault(logger)

	slog.Info("Starting telemetry ingest service",
		slog.String("transport", cfg.Transport.Backend),
		slog.String("broker", cfg.Transport.BrokerURL),
		slog.String("namespace", cfg.Topic.Namespace),
		slog.Int("batch_size", cfg.Pipeline.BatchSize),
		slog.Int("port", cfg.Server.Port),
	)

	recorder := metrics.NewRecorder()
	defer recorder.Close()

	pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to create database pool: %v", err)
	}
	defer pool.Close()

	dlq := deadletter.NewWriter(cfg.DeadLetter.Path, cfg.DeadLetter.MaxBytes, logger, recorder)
	defer func() {
		if err := dlq.Close(); err != nil {
			slog.Warn("Dead-letter file close failed", slog.Any("error", err))
		}
	}()

	var cache identity.Cache
	switch cfg.Cache.Backend {
	case "redis":
		redisCache, err := identity.NewRedisCache(cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis cache: %v", err)
		}
		defer redisCache.Close()
		cache = redisCache
		slog.Info("Device identity cache using Redis", slog.Duration("ttl", cfg.Cache.TTL))
	default:
		cache = identity.NewMemoryCache(cfg.Cache.TTL)
		slog.Info("Device identity cache in memory", slog.Duration("ttl", cfg.Cache.TTL))
	}

	resolver := identity.NewResolver(identity.NewPostgresStore(pool), cache)

	writer := persist.NewWriter(
		persist.NewPgxInserter(pool),
		dlq,
		recorder,
		logger,
		cfg.Pipeline.MaxRetries,
		cfg.Pipeline.RetryBase,
	)

	pipe := pipeline.New(pipeline.Options{
		Namespace:     cfg.Topic.Namespace,
		Source:        cfg.Pipeline.IngestSource,
		BatchSize:     cfg.Pipeline.BatchSize,
		FlushInterval: cfg.Pipeline.FlushInterval,
	}, dlq, resolver, writer, recorder, logger)

	transportCfg := transport.Config{
		BrokerURL:      cfg.Transport.BrokerURL,
		Username:       cfg.Transport.Username,
		Password:       cfg.Transport.Password,
		ClientIDPrefix: cfg.Transport.ClientIDPrefix,
		ConnectTimeout: cfg.Transport.ConnectTimeout,
		Namespace:      cfg.Topic.Namespace,
	}

	var listener transport.Listener
	switch cfg.Transport.Backend {
	case "nats":
		listener = transport.NewNATSListener(transportCfg, pipe.Handle, recorder, logger)
	default:
		listener = transport.NewMQTTListener(transportCfg, pipe.Handle, recorder, logger)
	}
	if err := listener.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start %s listener: %v", cfg.Transport.Backend, err)
	}

	evaluator := health.NewEvaluator(
		recorder,
		cfg.Health.StalenessWindow,
		cfg.Transport.RequiredForHealth,
		cfg.StorageConfigured(),
	)
	router := server.NewRouter(server.NewHandler(evaluator, recorder))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("HTTP endpoints listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down")

	// Stop intake first, then drain buffered items through a final flush so
	// nothing accepted from the broker is lost on the way out.
	listener.Close()
	pipe.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", slog.Any("error", err))
	}

	slog.Info("Ingest service stopped")
}
