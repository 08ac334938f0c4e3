package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	IngestServerAddr string `env:"INGEST_SERVER_ADDR" envDefault:":8080"`
	AdminServerAddr  string `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`
	WorkerAdminAddr  string `env:"WORKER_ADMIN_ADDR" envDefault:":9092"`
	MaxBatchBytes    int64  `env:"MAX_BATCH_BYTES" envDefault:"1048576"` // 1MB

	// Empty PostgresURL selects the in-memory store.
	PostgresURL    string        `env:"POSTGRES_URL"`
	APIKeyCacheTTL time.Duration `env:"API_KEY_CACHE_TTL" envDefault:"5m"`

	// Empty RedisAddr selects the no-op queue; every job is dropped with a warning.
	RedisAddr      string `env:"REDIS_ADDR"`
	RedisDLQStream string `env:"REDIS_DLQ_STREAM" envDefault:"queue:dead-letter"`

	WALPath        string `env:"WAL_PATH" envDefault:"./wal"`
	WALSegmentSize int64  `env:"WAL_SEGMENT_SIZE_BYTES" envDefault:"104857600"`  // 100MB
	WALMaxDiskSize int64  `env:"WAL_MAX_DISK_SIZE_BYTES" envDefault:"1073741824"` // 1GB

	PIIRedactionFields string `env:"PII_REDACTION_FIELDS" envDefault:"email,password,credit_card,ssn,phone"`

	ScorerURL     string        `env:"SCORER_URL" envDefault:"http://localhost:8000"`
	ScorerTimeout time.Duration `env:"SCORER_TIMEOUT" envDefault:"8s"`

	GeoIPURL           string        `env:"GEOIP_URL" envDefault:"http://ip-api.com/json"`
	GeoIPTimeout       time.Duration `env:"GEOIP_TIMEOUT" envDefault:"5s"`
	GeoIPRatePerMinute int           `env:"GEOIP_RATE_PER_MINUTE" envDefault:"45"`

	RiskCacheTTL     time.Duration `env:"RISK_CACHE_TTL" envDefault:"24h"`
	RiskCacheBackend string        `env:"RISK_CACHE_BACKEND" envDefault:"memory"`

	QueuePollInterval time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	QueueReclaimIdle  time.Duration `env:"QUEUE_RECLAIM_IDLE" envDefault:"5m"`
	QueueDrainTimeout time.Duration `env:"QUEUE_DRAIN_TIMEOUT" envDefault:"10s"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	RetrainThreshold  int64         `env:"RETRAIN_THRESHOLD" envDefault:"1000"`
	ConsumerName      string        `env:"CONSUMER_NAME"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.ConsumerName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "consumer-default"
		}
		cfg.ConsumerName = host
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}

	return cfg, nil
}

// RedactionFields splits PIIRedactionFields into trimmed, non-empty names.
func (c *Config) RedactionFields() []string {
	var out []string
	for _, f := range strings.Split(c.PIIRedactionFields, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
