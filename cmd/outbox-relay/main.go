// Package main provides the outbox relay service entry point.
// Relays movement and charge events written by the stores to Redpanda.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxcharge/internal/api/ops"
	"github.com/drfirst/go-rxcharge/internal/config"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxcharge/internal/observability/metrics"
	"github.com/drfirst/go-rxcharge/internal/observability/tracing"
)

const serviceName = "outbox-relay"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	traceCfg := tracing.DefaultConfig(serviceName)
	traceCfg.Environment = cfg.Env
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	traceCfg.SampleRate = cfg.TraceSampleRate
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("connected to database")

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, m, logger.Named("producer"))
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()
	logger.Info("connected to Redpanda", zap.Strings("brokers", cfg.KafkaBrokers))

	outbox := postgres.NewOutbox(pool, producer, postgres.DefaultOutboxConfig(), m, logger.Named("outbox"))
	outbox.Start()

	srv := &http.Server{
		Addr: ":" + cfg.OpsPort,
		Handler: ops.NewRouter(ops.Options{
			Service:  serviceName,
			Version:  "0.1.0",
			Gatherer: reg,
			Checks: map[string]ops.Check{
				"postgres": pool.Ping,
				"redpanda": producer.Ping,
			},
			Stats: map[string]ops.StatsFunc{
				"outbox": func(ctx context.Context) (any, error) { return outbox.GetStats(ctx) },
			},
		}, logger.Named("ops")),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()

	// processed rows are kept for a day for audit
	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupDone:
				return
			case <-ticker.C:
				n, err := outbox.CleanupProcessed(ctx, 24*time.Hour)
				if err != nil {
					logger.Warn("outbox cleanup failed", zap.Error(err))
					continue
				}
				logger.Debug("outbox cleanup", zap.Int64("deleted", n))
			}
		}
	}()

	logger.Info("outbox relay started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	close(cleanupDone)
	outbox.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	logger.Info("outbox relay stopped")
}
