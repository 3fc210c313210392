// Package main is the entry point for the alertflow ingest and correlation
// service.
package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"alertflow/internal/archive"
	"alertflow/internal/config"
	"alertflow/internal/correlation"
	"alertflow/internal/delegate"
	"alertflow/internal/metrics"
	"alertflow/internal/model"
	"alertflow/internal/observable"
	"alertflow/internal/parser"
	"alertflow/internal/pipeline"
	"alertflow/internal/provider"
	"alertflow/internal/queue"
	"alertflow/internal/rules"
	"alertflow/internal/sourcemgr"
	"alertflow/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"reconcile_interval", cfg.Reconcile.Interval,
		"workers", cfg.Workers.Count,
		"queue_size", cfg.Workers.QueueSize,
		"archive_enabled", cfg.Archive.Enabled,
		"delegate_enabled", cfg.Delegate.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Analytical store.
	chClient, err := storage.NewClickHouseClient(storage.ClickHouseConfig{
		Hosts:           cfg.ClickHouse.Hosts,
		Database:        cfg.ClickHouse.Database,
		Username:        cfg.ClickHouse.Username,
		Password:        cfg.ClickHouse.Password,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		TLSEnabled:      cfg.ClickHouse.TLSEnabled,
		DialTimeout:     cfg.ClickHouse.DialTimeout,
	})
	if err != nil {
		logger.Error("clickhouse connection failed", "error", err)
		os.Exit(1)
	}

	if err := storage.NewMigrator(chClient, logger).Run(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// Rule/config provider and observable store share one Redis client.
	redisClient := newRedisClient(cfg.Redis)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("redis connection failed", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	ruleProvider := provider.NewRedisProvider(redisClient, cfg.Provider.CacheTTL, logger)

	var delegateClient *delegate.Client
	if cfg.Delegate.Enabled {
		delegateClient = delegate.NewClient(cfg.Delegate, logger)
	}

	// Evaluation and extraction.
	var ruleDelegate rules.Delegate
	var corrDelegate correlation.Delegate
	if delegateClient != nil {
		ruleDelegate = delegateClient
		corrDelegate = delegateClient
	}
	evaluator := rules.NewEvaluator(ruleDelegate, logger)
	evaluator.OnFallback = m.DelegateFallback.Inc
	obsStore := observable.NewRedisStore(redisClient)
	extractor := observable.NewExtractor(obsStore, logger)
	extractor.OnPersisted = m.ObservablesSaved.Inc

	// Storage sink.
	batchWriter := storage.NewBatchWriter(chClient, storage.BatchWriterConfig{
		BatchSize:     cfg.BatchWriter.BatchSize,
		FlushInterval: cfg.BatchWriter.FlushInterval,
		MaxRetries:    cfg.BatchWriter.MaxRetries,
		RetryDelay:    cfg.BatchWriter.RetryDelay,
	})

	// Correlation.
	alertRepo := storage.NewAlertRepository(chClient)
	eventRepo := storage.NewEventRepository(chClient)
	engine := correlation.NewEngine(alertRepo, eventRepo, ruleProvider, obsStore, corrDelegate, observable.DomainsIn, logger)
	engine.OnEventCreated = func(*model.Event) { m.EventsCreated.Inc() }
	engine.OnEventUpdated = func(*model.Event) { m.EventsUpdated.Inc() }
	engine.OnDelegateFallback = m.DelegateFallback.Inc

	// Optional raw-record archival.
	var archiver pipeline.Archiver
	var archiverClose func() error
	if cfg.Archive.Enabled {
		a, err := archive.NewArchiver(ctx, cfg.Archive, logger)
		if err != nil {
			logger.Error("archiver init failed", "error", err)
			os.Exit(1)
		}
		archiver = a
		archiverClose = a.Close
	}

	// Async worker pool. The pool runs on its own context, cancelled only
	// after Stop has drained the queue: jobs for records whose offsets are
	// already committed must survive the root cancel.
	jobQueue := queue.NewRingBuffer(cfg.Workers.QueueSize)
	pool := queue.NewPool(jobQueue, queue.PoolConfig{
		Workers:      cfg.Workers.Count,
		PollInterval: cfg.Workers.PollInterval,
		ShutdownWait: cfg.Workers.ShutdownWait,
	}, logger)
	poolCtx, poolCancel := context.WithCancel(context.Background())
	defer poolCancel()
	pool.Start(poolCtx)

	proc := pipeline.New(
		ruleProvider,
		parser.New(),
		evaluator,
		extractor,
		batchWriter,
		archiver,
		engine,
		pool,
		m,
		logger,
	)

	// Source consumers.
	manager := sourcemgr.NewManager(ruleProvider, cfg.Kafka, cfg.Reconcile.Interval, proc, ruleProvider, logger)
	manager.OnReconcile = func(running int) {
		m.ConsumersRunning.Set(float64(running))
		qm := jobQueue.Metrics()
		m.QueueDepth.Set(float64(qm.Depth))
	}
	go manager.Run(ctx)

	// Prometheus exposition.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", m.Handler())
		mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics server listening", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	// Stop intake first, then drain the async stages, then close sinks.
	cancel()
	manager.StopAll(cfg.Reconcile.ShutdownTimeout)
	pool.Stop()
	poolCancel()
	jobQueue.Close()

	if err := batchWriter.Close(); err != nil {
		logger.Error("batch writer close error", "error", err)
	}
	if archiverClose != nil {
		if err := archiverClose(); err != nil {
			logger.Error("archiver close error", "error", err)
		}
	}
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
		shutdownCancel()
	}
	if err := chClient.Close(); err != nil {
		logger.Error("clickhouse close error", "error", err)
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	executed, failed := pool.Stats()
	qm := jobQueue.Metrics()
	logger.Info("shutdown complete",
		"jobs_executed", executed,
		"jobs_failed", failed,
		"jobs_pushed", qm.Pushed,
		"jobs_popped", qm.Popped,
	)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}
