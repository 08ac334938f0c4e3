package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/survey-sentinel/internal/adapter/api"
	"github.com/V4T54L/survey-sentinel/internal/adapter/geoip"
	"github.com/V4T54L/survey-sentinel/internal/adapter/metrics"
	redisqueue "github.com/V4T54L/survey-sentinel/internal/adapter/queue/redis"
	"github.com/V4T54L/survey-sentinel/internal/adapter/repository/postgres"
	"github.com/V4T54L/survey-sentinel/internal/adapter/riskcache"
	"github.com/V4T54L/survey-sentinel/internal/adapter/scorer"
	"github.com/V4T54L/survey-sentinel/internal/domain"
	"github.com/V4T54L/survey-sentinel/internal/pkg/config"
	"github.com/V4T54L/survey-sentinel/internal/pkg/logger"
	"github.com/V4T54L/survey-sentinel/internal/usecase"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("Starting consumer worker", "consumer", cfg.ConsumerName)

	if cfg.RedisAddr == "" || cfg.PostgresURL == "" {
		log.Error("Consumer requires REDIS_ADDR and POSTGRES_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	wm := metrics.NewWorkerMetrics(reg)

	// Connect to Redis
	redisClient, err := redisqueue.NewClient(cfg.RedisAddr)
	if err != nil {
		log.Error("Failed to parse redis address", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to redis")

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("Failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("Failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("Failed to apply schema", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to postgres")

	queue := redisqueue.NewQueue(redisClient, log, redisqueue.Options{
		Consumer:     cfg.ConsumerName,
		DLQStream:    cfg.RedisDLQStream,
		PollInterval: cfg.QueuePollInterval,
		ReclaimIdle:  cfg.QueueReclaimIdle,
		DrainTimeout: cfg.QueueDrainTimeout,
		Concurrency:  cfg.WorkerConcurrency,
		Metrics:      wm,
	})
	go queue.StartHealthCheck(ctx, 5*time.Second)

	responses := postgres.NewResponseRepository(db, log)
	analytics := postgres.NewAnalyticsRepository(db, log)
	fraudScorer := scorer.NewClient(cfg.ScorerURL, cfg.ScorerTimeout, log)
	risk := usecase.NewRiskEnrichmentUseCase(
		geoip.NewClient(cfg.GeoIPURL, cfg.GeoIPTimeout, cfg.GeoIPRatePerMinute, log),
		newRiskCache(cfg, redisClient, log),
		responses,
		wm,
		log,
	)

	handlers := map[domain.QueueName]domain.JobHandler{
		domain.QueueSubmissionAnalysis:  usecase.NewAnalyzeSubmissionUseCase(fraudScorer, responses, risk, queue, wm, log).Handle,
		domain.QueueAnalyticsProcessing: usecase.NewAnalyticsAggregator(analytics, analytics, analytics, responses, queue, cfg.RetrainThreshold, wm, log).Handle,
		domain.QueueCreditDistribution:  usecase.NewDistributeCreditsUseCase(postgres.NewCreditLedger(db, log), log).Handle,
		domain.QueueModelRetraining:     usecase.NewTriggerRetrainingUseCase(fraudScorer, log).Handle,
	}

	metricsServer := &http.Server{
		Addr:         cfg.WorkerAdminAddr,
		Handler:      api.NewAdminRouter(log, nil, nil, reg),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "error", err)
		}
	}()

	var wg sync.WaitGroup
	for _, name := range domain.Queues {
		wg.Add(1)
		go func(name domain.QueueName, h domain.JobHandler) {
			defer wg.Done()
			log.Info("Consuming queue", "queue", name, "concurrency", cfg.WorkerConcurrency)
			if err := queue.Consume(ctx, name, h); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Queue consumer stopped", "queue", name, "error", err)
				stop()
			}
		}(name, handlers[name])
	}

	<-ctx.Done()
	log.Info("Shutdown signal received, finishing in-flight jobs", "grace", cfg.QueueDrainTimeout)
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Metrics server shutdown failed", "error", err)
	}

	log.Info("Consumer worker shut down gracefully")
}

func newRiskCache(cfg *config.Config, client *redis.Client, log *slog.Logger) domain.RiskCache {
	if cfg.RiskCacheBackend == "redis" {
		log.Info("Using redis risk cache", "ttl", cfg.RiskCacheTTL)
		return riskcache.NewRedis(client, cfg.RiskCacheTTL)
	}
	return riskcache.NewMemory(cfg.RiskCacheTTL)
}
