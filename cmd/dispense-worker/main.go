// Package main provides the dispense worker entry point.
// Consumes dispense requests, moves stock and records the charge.
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
	"github.com/drfirst/go-rxcharge/internal/engine"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxcharge/internal/infrastructure/stores"
	"github.com/drfirst/go-rxcharge/internal/observability/metrics"
	"github.com/drfirst/go-rxcharge/internal/observability/tracing"
	"github.com/drfirst/go-rxcharge/internal/worker"
	"github.com/drfirst/go-rxcharge/pkg/idempotency"
)

const serviceName = "dispense-worker"

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
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

	if err := run(cfg, logger); err != nil {
		logger.Fatal("dispense worker failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	traceCfg := tracing.DefaultConfig(serviceName)
	traceCfg.Environment = cfg.Env
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	traceCfg.SampleRate = cfg.TraceSampleRate
	tp, err := tracing.Init(ctx, traceCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tp.Shutdown(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Prescriptions, fee profiles, the inbox and the outbox live in
	// Postgres whatever store holds the inventory.
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}

	backend, err := stores.Open(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.KafkaBrokers
	producer, err := redpanda.NewProducer(producerCfg, m, logger.Named("producer"))
	if err != nil {
		return err
	}
	defer producer.Close()

	eng := engine.New(engine.Deps{
		Store:         backend.Inventory,
		Profiles:      postgres.NewFeeProfileSource(pool),
		Prescriptions: postgres.NewPrescriptionSource(pool),
		Events:        postgres.NewOutboxSink(pool),
		Metrics:       m,
	}, logger.Named("engine"))

	workerCfg := worker.DefaultConfig()
	workerCfg.Pool.Workers = cfg.WorkerCount
	workerCfg.Pool.QueueSize = cfg.QueueSize
	workerCfg.Inbox.DefaultTTL = cfg.IdempotencyTTL
	inboxRepo := idempotency.NewPostgresRepository(pool)

	w, err := worker.New(eng, inboxRepo, producer, workerCfg, m, logger.Named("worker"))
	if err != nil {
		return err
	}
	w.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumer, err := redpanda.NewConsumer(consumerCfg, w.Handle, m, logger.Named("consumer"))
	if err != nil {
		w.Stop()
		return err
	}
	consumer.Start()

	srv := &http.Server{
		Addr: ":" + cfg.OpsPort,
		Handler: ops.NewRouter(ops.Options{
			Service:  serviceName,
			Version:  "0.1.0",
			Gatherer: reg,
			Checks: map[string]ops.Check{
				"postgres": pool.Ping,
				"redpanda": consumer.Ping,
				"queue": func(context.Context) error {
					if !w.Healthy() {
						return errors.New("worker queue near capacity")
					}
					return nil
				},
			},
			Stats: map[string]ops.StatsFunc{
				"worker": func(context.Context) (any, error) { return w.Stats(), nil },
				"inbox": func(ctx context.Context) (any, error) {
					return inboxRepo.GetStats(ctx)
				},
			},
		}, logger.Named("ops")),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("ops server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server failed", zap.Error(err))
		}
	}()

	logger.Info("dispense worker started",
		zap.String("store", backend.Driver),
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.Int("workers", cfg.WorkerCount))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	// stop intake first so the pool drains what was already accepted
	if err := consumer.Stop(); err != nil {
		logger.Warn("consumer stop failed", zap.Error(err))
	}
	if err := w.Stop(); err != nil {
		logger.Warn("worker stop failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops server shutdown failed", zap.Error(err))
	}

	logger.Info("dispense worker stopped")
	return nil
}
