package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/survey-sentinel/internal/adapter/api"
	"github.com/V4T54L/survey-sentinel/internal/adapter/api/handler"
	"github.com/V4T54L/survey-sentinel/internal/adapter/metrics"
	"github.com/V4T54L/survey-sentinel/internal/adapter/pii"
	"github.com/V4T54L/survey-sentinel/internal/adapter/queue/noop"
	redisqueue "github.com/V4T54L/survey-sentinel/internal/adapter/queue/redis"
	"github.com/V4T54L/survey-sentinel/internal/adapter/repository/memory"
	"github.com/V4T54L/survey-sentinel/internal/adapter/repository/postgres"
	"github.com/V4T54L/survey-sentinel/internal/adapter/repository/wal"
	"github.com/V4T54L/survey-sentinel/internal/domain"
	"github.com/V4T54L/survey-sentinel/internal/pkg/config"
	"github.com/V4T54L/survey-sentinel/internal/pkg/logger"
	"github.com/V4T54L/survey-sentinel/internal/usecase"

	_ "github.com/lib/pq"
)

const healthCheckInterval = 5 * time.Second

type stores struct {
	events    domain.EventRepository
	responses domain.ResponseRepository
	analytics domain.AnalyticsRepository
	patterns  domain.PatternRepository
	insights  domain.InsightRepository
	keys      domain.APIKeyRepository
	closeFn   func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewIngestMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger, m)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer st.closeFn()

	// --- Job queue ---
	var (
		jobs        domain.JobEnqueuer
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient, err = redisqueue.NewClient(cfg.RedisAddr)
		if err != nil {
			logger.Error("Failed to parse redis address", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("Could not connect to redis, jobs are dropped until it recovers", "error", err)
		}
		q := redisqueue.NewQueue(redisClient, logger, redisqueue.Options{DLQStream: cfg.RedisDLQStream})
		go q.StartHealthCheck(ctx, healthCheckInterval)
		jobs = q
	} else {
		logger.Warn("REDIS_ADDR not set, analysis jobs will be dropped")
		jobs = noop.New(logger)
	}

	// --- Use cases ---
	engagement := usecase.NewAnalyticsAggregator(st.analytics, st.patterns, st.insights, st.responses, jobs, cfg.RetrainThreshold, nil, logger)
	redactor := pii.NewRedactor(cfg.RedactionFields(), logger)
	ingest := usecase.NewIngestEventsUseCase(st.events, st.responses, engagement, jobs, redactor, m, logger)
	reports := usecase.NewCaptureReportUseCase(st.events)

	// --- Ingest server ---
	live := handler.NewSSEBroker(ctx, time.Second, logger)
	capture := handler.NewCaptureHandler(ingest, reports, live, m, logger, cfg.MaxBatchBytes)
	ingestServer := &http.Server{
		Addr:        cfg.IngestServerAddr,
		Handler:     api.NewRouter(logger, capture, live),
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: /live keeps its response open.
		IdleTimeout: 15 * time.Second,
	}

	// --- Admin and metrics server ---
	var admin *handler.AdminHandler
	if redisClient != nil {
		repo := redisqueue.NewAdminRepository(redisClient, cfg.RedisDLQStream, logger)
		admin = handler.NewAdminHandler(usecase.NewAdminStreamUseCase(repo, redisqueue.StreamKey, cfg.RedisDLQStream), logger)
	}
	adminServer := &http.Server{
		Addr:         cfg.AdminServerAddr,
		Handler:      api.NewAdminRouter(logger, admin, st.keys, reg),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go serve(adminServer, "admin", logger, stop)
	go serve(ingestServer, "ingest", logger, stop)

	<-ctx.Done()
	logger.Info("Shutting down servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ingestServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ingest server shutdown failed", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin server shutdown failed", "error", err)
	}

	logger.Info("Servers shut down gracefully")
}

func serve(srv *http.Server, name string, logger *slog.Logger, stop func()) {
	logger.Info("Starting server", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "server", name, "error", err)
		stop()
	}
}

// openStores uses Postgres with a WAL fallback when POSTGRES_URL is set and
// the in-memory store otherwise.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.IngestMetrics) (*stores, error) {
	if cfg.PostgresURL == "" {
		logger.Warn("POSTGRES_URL not set, using the in-memory store")
		mem := memory.New()
		return &stores{
			events:    mem,
			responses: mem,
			analytics: mem,
			patterns:  mem,
			insights:  mem,
			keys:      mem,
			closeFn:   func() {},
		}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Warn("Schema migration failed, raw events will be spooled until the database recovers", "error", err)
	}

	spool, err := wal.Open(cfg.WALPath, cfg.WALSegmentSize, cfg.WALMaxDiskSize, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	events := postgres.NewEventRepository(db, spool, logger, m)
	go events.StartHealthCheck(ctx, healthCheckInterval)

	analytics := postgres.NewAnalyticsRepository(db, logger)
	return &stores{
		events:    events,
		responses: postgres.NewResponseRepository(db, logger),
		analytics: analytics,
		patterns:  analytics,
		insights:  analytics,
		keys:      postgres.NewAPIKeyRepository(db, logger, cfg.APIKeyCacheTTL, m),
		closeFn: func() {
			if err := spool.Close(); err != nil {
				logger.Error("Failed to close WAL", "error", err)
			}
			db.Close()
		},
	}, nil
}
